// Package summarize compresses older turns into a compact digest via a
// language model.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/recall/internal/provider"
	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/felixgeelhaar/recall/internal/token"
)

// ErrSummarization marks a failed or timed-out summarizer call. Callers are
// expected to degrade to the previous digest rather than fail the request.
var ErrSummarization = errors.New("summarization failed")

// Summarizer produces a new digest folding the prior digest (may be empty)
// together with the candidate turns. Output is best-effort and lossy.
type Summarizer interface {
	Summarize(ctx context.Context, priorDigest string, candidates []store.Turn) (string, error)
}

const instruction = `You compress conversation history for an AI agent. Summarize the transcript below into a single concise digest. Preserve: the user's goals and preferences, concrete decisions and their outcomes, and any named entities (people, files, products, dates). Fold the previous digest in; do not repeat yourself. Reply with the digest text only.`

// ProviderSummarizer drives a provider.Provider chat call.
type ProviderSummarizer struct {
	provider  provider.Provider
	counter   token.Counter
	maxTokens int
	timeout   time.Duration
}

func NewProviderSummarizer(p provider.Provider, c token.Counter, maxTokens int, timeout time.Duration) *ProviderSummarizer {
	return &ProviderSummarizer{
		provider:  p,
		counter:   c,
		maxTokens: maxTokens,
		timeout:   timeout,
	}
}

func (s *ProviderSummarizer) Summarize(ctx context.Context, priorDigest string, candidates []store.Turn) (string, error) {
	if len(candidates) == 0 {
		return priorDigest, nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var sb strings.Builder
	if priorDigest != "" {
		sb.WriteString("Previous digest:\n")
		sb.WriteString(priorDigest)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Transcript:\n")
	for _, t := range candidates {
		sb.WriteString(string(t.Role))
		sb.WriteString(": ")
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}
	if s.maxTokens > 0 {
		fmt.Fprintf(&sb, "\nKeep the digest under %d tokens.", s.maxTokens)
	}

	resp, err := s.provider.Chat(ctx, []provider.Message{
		{Role: "system", Content: instruction},
		{Role: "user", Content: sb.String()},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSummarization, err)
	}

	digest := strings.TrimSpace(resp.Content)
	if digest == "" {
		return "", fmt.Errorf("%w: model returned empty digest", ErrSummarization)
	}

	// The instruction asks for the budget; the truncation enforces it.
	return token.Truncate(s.counter, digest, s.maxTokens), nil
}

// StaticSummarizer is a deterministic non-LLM fallback used in tests and
// offline wiring.
type StaticSummarizer struct{}

func (StaticSummarizer) Summarize(ctx context.Context, priorDigest string, candidates []store.Turn) (string, error) {
	if len(candidates) == 0 {
		return priorDigest, nil
	}
	summary := fmt.Sprintf("[%d earlier turns through #%d]", len(candidates), candidates[len(candidates)-1].Seq)
	if priorDigest != "" {
		return priorDigest + " " + summary, nil
	}
	return summary, nil
}
