// Package retention decides which turns stay verbatim and when a session is
// due for summarization.
package retention

import (
	"fmt"

	"github.com/felixgeelhaar/recall/internal/store"
)

// Policy configures retention for a session manager.
type Policy struct {
	// KeepVerbatim is the number of most recent turns always kept uncompressed.
	KeepVerbatim int
	// SummarizeTrigger is the minimum number of un-summarized, non-kept turns
	// required before summarization runs. Keeps the summarizer from firing on
	// every single turn.
	SummarizeTrigger int
}

// DefaultPolicy keeps a short verbatim tail and batches summarization.
var DefaultPolicy = Policy{
	KeepVerbatim:     5,
	SummarizeTrigger: 4,
}

func (p Policy) Validate() error {
	if p.KeepVerbatim < 1 {
		return fmt.Errorf("keep_verbatim must be >= 1, got %d", p.KeepVerbatim)
	}
	if p.SummarizeTrigger < 1 {
		return fmt.Errorf("summarize_trigger must be >= 1, got %d", p.SummarizeTrigger)
	}
	return nil
}

// Decision is the outcome of evaluating a session's turns against the policy.
type Decision struct {
	// Due reports whether summarization should run now.
	Due bool
	// Candidates are the turns eligible for folding into the digest, in
	// order. Empty unless Due.
	Candidates []store.Turn
}

// Evaluate splits turns into summarize-candidates and the verbatim tail.
// turns must be the session's full ordered turn list; digest may be nil.
func (p Policy) Evaluate(turns []store.Turn, digest *store.Digest) Decision {
	// Everything fits in the tail: nothing to summarize, ever.
	if len(turns) <= p.KeepVerbatim {
		return Decision{}
	}

	coveredThrough := int64(0)
	if digest != nil {
		coveredThrough = digest.CoversThrough
	}

	cutoff := len(turns) - p.KeepVerbatim
	var candidates []store.Turn
	for _, t := range turns[:cutoff] {
		if t.Seq > coveredThrough {
			candidates = append(candidates, t)
		}
	}

	if len(candidates) < p.SummarizeTrigger {
		return Decision{}
	}
	return Decision{Due: true, Candidates: candidates}
}

// Tail returns the verbatim turns a caller should see given the current
// digest: all turns with seq beyond what the digest covers.
func Tail(turns []store.Turn, digest *store.Digest) []store.Turn {
	if digest == nil {
		return turns
	}
	for i, t := range turns {
		if t.Seq > digest.CoversThrough {
			return turns[i:]
		}
	}
	return []store.Turn{}
}
