package guard

import (
	"strings"
	"testing"

	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/felixgeelhaar/recall/internal/token"
)

func TestCheckSession(t *testing.T) {
	g := New(Policy{SessionGlobs: []string{"agent-*", "test/**"}}, nil)

	if out := g.CheckSession("agent-42"); !out.Allowed {
		t.Errorf("Expected allowed, got blocked: %s", out.Reason)
	}
	if out := g.CheckSession("test/nested/run"); !out.Allowed {
		t.Errorf("Expected allowed, got blocked: %s", out.Reason)
	}
	if out := g.CheckSession("other"); out.Allowed {
		t.Error("Expected block for out-of-scope session")
	} else if out.Rule != "session_globs" {
		t.Errorf("Expected session_globs rule, got %q", out.Rule)
	}

	// No globs configured: anything goes.
	open := New(Policy{}, nil)
	if out := open.CheckSession("anything"); !out.Allowed {
		t.Error("Empty globs should allow all sessions")
	}
}

func TestCheckTurn(t *testing.T) {
	t.Run("DefaultPolicyAllows", func(t *testing.T) {
		g := New(DefaultPolicy, token.HeuristicCounter{})
		if out := g.CheckTurn("s1", store.RoleUser, "hello"); !out.Allowed {
			t.Errorf("Expected allowed, got %q: %s", out.Rule, out.Reason)
		}
	})

	t.Run("RoleRestriction", func(t *testing.T) {
		g := New(Policy{AllowedRoles: []store.Role{store.RoleUser, store.RoleAssistant}}, nil)
		if out := g.CheckTurn("s1", store.RoleSystem, "x"); out.Allowed {
			t.Error("Expected block for system role")
		} else if out.Rule != "allowed_roles" {
			t.Errorf("Expected allowed_roles rule, got %q", out.Rule)
		}
	})

	t.Run("TokenBudget", func(t *testing.T) {
		g := New(Policy{MaxContentTokens: 3}, token.HeuristicCounter{})
		if out := g.CheckTurn("s1", store.RoleUser, strings.Repeat("x", 100)); out.Allowed {
			t.Error("Expected block for oversized turn")
		} else if out.Rule != "max_content_tokens" {
			t.Errorf("Expected max_content_tokens rule, got %q", out.Rule)
		}
		if out := g.CheckTurn("s1", store.RoleUser, "ok"); !out.Allowed {
			t.Error("Small turn should pass")
		}
	})

	t.Run("BlockedSubstrings", func(t *testing.T) {
		g := New(Policy{BlockedSubstrings: []string{"BEGIN RSA PRIVATE KEY"}}, nil)
		if out := g.CheckTurn("s1", store.RoleUser, "here is my key: begin rsa private key"); out.Allowed {
			t.Error("Expected block for secret material")
		}
		if out := g.CheckTurn("s1", store.RoleUser, "a normal message"); !out.Allowed {
			t.Error("Clean content should pass")
		}
	})

	t.Run("SessionScopeAppliesToTurns", func(t *testing.T) {
		g := New(Policy{SessionGlobs: []string{"prod-*"}}, nil)
		if out := g.CheckTurn("dev-1", store.RoleUser, "x"); out.Allowed {
			t.Error("Expected block for out-of-scope session")
		}
	})
}
