// Package guard screens incoming turns before they reach storage.
package guard

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/felixgeelhaar/recall/internal/token"
)

// Policy defines the limits and scopes for turn intake.
type Policy struct {
	// MaxContentTokens caps the estimated token cost of a single turn.
	// Zero disables the check.
	MaxContentTokens int `json:"max_content_tokens"`
	// AllowedRoles restricts which roles may be appended. Empty means all
	// valid roles.
	AllowedRoles []store.Role `json:"allowed_roles"`
	// SessionGlobs restricts which session IDs a caller may touch,
	// doublestar syntax. Empty means any.
	SessionGlobs []string `json:"session_globs"`
	// BlockedSubstrings rejects turns containing any of these fragments
	// (case-insensitive). Crude tripwire for secrets or injection markers.
	BlockedSubstrings []string `json:"blocked_substrings"`
}

// DefaultPolicy accepts everything within a generous size cap.
var DefaultPolicy = Policy{
	MaxContentTokens: 8000,
}

// Outcome is the tagged result of a guard check. Exactly one branch holds:
// either the turn is allowed, or Rule/Reason describe the block. Blocks are
// results, not errors; call sites must handle both branches.
type Outcome struct {
	Allowed bool
	Rule    string
	Reason  string
}

func allowed() Outcome {
	return Outcome{Allowed: true}
}

func blocked(rule, reason string) Outcome {
	return Outcome{Rule: rule, Reason: reason}
}

// Guard enforces the policy.
type Guard struct {
	policy  Policy
	counter token.Counter
}

func New(p Policy, c token.Counter) *Guard {
	if c == nil {
		c = token.HeuristicCounter{}
	}
	return &Guard{policy: p, counter: c}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckSession verifies the session ID against the allowed globs.
func (g *Guard) CheckSession(sessionID string) Outcome {
	if len(g.policy.SessionGlobs) == 0 {
		return allowed()
	}
	for _, pattern := range g.policy.SessionGlobs {
		if match, err := doublestar.Match(pattern, sessionID); err == nil && match {
			return allowed()
		}
	}
	return blocked("session_globs", "session not in scope: "+sessionID)
}

// CheckTurn screens one turn before append.
func (g *Guard) CheckTurn(sessionID string, role store.Role, content string) Outcome {
	if out := g.CheckSession(sessionID); !out.Allowed {
		return out
	}

	if len(g.policy.AllowedRoles) > 0 {
		ok := false
		for _, r := range g.policy.AllowedRoles {
			if r == role {
				ok = true
				break
			}
		}
		if !ok {
			return blocked("allowed_roles", "role not allowed: "+string(role))
		}
	}

	if g.policy.MaxContentTokens > 0 {
		if cost := g.counter.Count(content); cost > g.policy.MaxContentTokens {
			return blocked("max_content_tokens",
				fmt.Sprintf("turn costs %d tokens, limit is %d", cost, g.policy.MaxContentTokens))
		}
	}

	lowered := strings.ToLower(content)
	for _, frag := range g.policy.BlockedSubstrings {
		if frag != "" && strings.Contains(lowered, strings.ToLower(frag)) {
			return blocked("blocked_substrings", "content matches blocked fragment")
		}
	}

	return allowed()
}
