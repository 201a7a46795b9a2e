// Package token estimates token counts for stored turns and digests.
package token

import (
	"fmt"

	"github.com/weaviate/tiktoken-go"
)

// Counter estimates how many model tokens a piece of text costs.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts with a real BPE encoding. The estimate is exact for
// OpenAI-family models and close enough for the rest.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// HeuristicCounter approximates four bytes per token. Used when the BPE
// tables are unavailable and in tests.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// NewCounter returns a tiktoken-backed counter, falling back to the
// heuristic if the encoding cannot be loaded.
func NewCounter(encoding string) Counter {
	if c, err := NewTiktokenCounter(encoding); err == nil {
		return c
	}
	return HeuristicCounter{}
}

// Truncate cuts text down to at most maxTokens according to the counter.
// The cut is byte-oriented for the heuristic counter and token-oriented
// otherwise, so the result may land slightly under the budget.
func Truncate(c Counter, text string, maxTokens int) string {
	if maxTokens <= 0 || c.Count(text) <= maxTokens {
		return text
	}
	if tc, ok := c.(*TiktokenCounter); ok {
		tokens := tc.enc.Encode(text, nil, nil)
		return tc.enc.Decode(tokens[:maxTokens])
	}
	limit := maxTokens * 4
	if limit >= len(text) {
		return text
	}
	// Avoid splitting a rune.
	for limit > 0 && text[limit]&0xC0 == 0x80 {
		limit--
	}
	return text[:limit]
}
