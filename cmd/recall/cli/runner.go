package cli

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/felixgeelhaar/recall/internal/provider"
	"github.com/felixgeelhaar/recall/internal/session"
	"github.com/felixgeelhaar/recall/internal/store"
)

// Runner drives one chat exchange through the memory pipeline: persist the
// user turn, assemble the bounded context, call the model, persist the reply.
type Runner struct {
	Observer *observe.Observer
	Store    store.Storage
	Manager  *session.Manager
	Provider provider.Provider
}

func NewRunner(obs *observe.Observer, s store.Storage, m *session.Manager, p provider.Provider) *Runner {
	return &Runner{
		Observer: obs,
		Store:    s,
		Manager:  m,
		Provider: p,
	}
}

// Exchange appends the user message, sends the assembled context to the
// provider and appends the reply. The model never sees more history than
// the digest plus the verbatim tail.
func (r *Runner) Exchange(ctx context.Context, sessionID, message string) (string, error) {
	log := r.Observer.Session(sessionID)

	_, outcome, err := r.Manager.AddTurn(ctx, sessionID, store.RoleUser, message)
	if err != nil {
		return "", fmt.Errorf("failed to append user turn: %w", err)
	}
	if !outcome.Allowed {
		return "", fmt.Errorf("turn blocked by %s: %s", outcome.Rule, outcome.Reason)
	}

	cx, err := r.Manager.GetContext(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to assemble context: %w", err)
	}
	log.Debug().Int("verbatim", len(cx.VerbatimTurns)).Msg("context assembled")

	messages := assembleMessages(cx)
	resp, err := r.Provider.Chat(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("provider call failed: %w", err)
	}
	log.Debug().Int("prompt_tokens", resp.Usage.PromptTokens).Int("completion_tokens", resp.Usage.CompletionTokens).Msg("model replied")

	if _, _, err := r.Manager.AddTurn(ctx, sessionID, store.RoleAssistant, resp.Content); err != nil {
		// The reply was produced; surface it but note the persistence gap.
		log.Warn().Err(err).Msg("failed to persist assistant turn")
	}
	return resp.Content, nil
}

func assembleMessages(cx session.Context) []provider.Message {
	var messages []provider.Message
	if cx.HasDigest {
		messages = append(messages, provider.Message{
			Role:    "system",
			Content: "Summary of the earlier conversation:\n" + cx.DigestContent,
		})
	}
	for _, turn := range cx.VerbatimTurns {
		messages = append(messages, provider.Message{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	return messages
}
