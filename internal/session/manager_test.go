package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/felixgeelhaar/recall/internal/guard"
	"github.com/felixgeelhaar/recall/internal/provider"
	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/felixgeelhaar/recall/internal/summarize"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.KeepVerbatim = 2
	cfg.SummarizeTrigger = 3
	return cfg
}

func newTestManager(t *testing.T, sum summarize.Summarizer, opts ...Option) (*Manager, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	if sum == nil {
		sum = summarize.StaticSummarizer{}
	}
	m, err := NewManager(s, sum, testConfig(), opts...)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m, s
}

func addTurns(t *testing.T, m *Manager, sessionID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		if _, _, err := m.AddTurn(context.Background(), sessionID, role, fmt.Sprintf("turn %d", i+1)); err != nil {
			t.Fatalf("AddTurn failed: %v", err)
		}
	}
}

func TestNewManagerValidation(t *testing.T) {
	s := store.NewMemoryStore()

	if _, err := NewManager(nil, summarize.StaticSummarizer{}, DefaultConfig()); err == nil {
		t.Error("Expected error for nil storage")
	}
	if _, err := NewManager(s, nil, DefaultConfig()); err == nil {
		t.Error("Expected error for nil summarizer")
	}

	bad := DefaultConfig()
	bad.KeepVerbatim = 0
	if _, err := NewManager(s, summarize.StaticSummarizer{}, bad); err == nil {
		t.Error("Expected error for invalid config")
	}
}

func TestShortSessionStaysVerbatim(t *testing.T) {
	m, _ := newTestManager(t, nil)
	addTurns(t, m, "s1", 2)

	cx, err := m.GetContext(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}
	if cx.HasDigest {
		t.Error("Sessions within keep_verbatim must never have a digest")
	}
	if len(cx.VerbatimTurns) != 2 {
		t.Fatalf("Expected 2 verbatim turns, got %d", len(cx.VerbatimTurns))
	}
	for i, turn := range cx.VerbatimTurns {
		if turn.Seq != int64(i)+1 {
			t.Errorf("Turn %d out of order: seq %d", i, turn.Seq)
		}
	}
}

func TestSummarizationScenario(t *testing.T) {
	// keep_verbatim=2, summarize_trigger=3, six turns: the digest must
	// cover t1..t4 and the tail must be [t5, t6].
	m, s := newTestManager(t, nil)
	addTurns(t, m, "s1", 6)

	cx, err := m.GetContext(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}
	if !cx.HasDigest {
		t.Fatal("Expected a digest after 6 turns")
	}
	if cx.DigestContent != "[4 earlier turns through #4]" {
		t.Errorf("Unexpected digest: %q", cx.DigestContent)
	}
	if len(cx.VerbatimTurns) != 2 || cx.VerbatimTurns[0].Seq != 5 || cx.VerbatimTurns[1].Seq != 6 {
		t.Errorf("Expected tail [t5, t6], got %v", cx.VerbatimTurns)
	}

	digest, _ := s.GetDigest("s1")
	if digest == nil || digest.CoversThrough != 4 {
		t.Errorf("Persisted digest should cover through 4, got %+v", digest)
	}
	turns, _ := s.GetTurns("s1", 0)
	if len(turns) != 6 {
		t.Errorf("Summarization must never delete turns, got %d", len(turns))
	}
}

func TestGetContextIdempotent(t *testing.T) {
	calls := 0
	counting := summarizerFunc(func(ctx context.Context, prior string, candidates []store.Turn) (string, error) {
		calls++
		return summarize.StaticSummarizer{}.Summarize(ctx, prior, candidates)
	})
	m, _ := newTestManager(t, counting)
	addTurns(t, m, "s1", 6)

	cx1, err := m.GetContext(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}
	cx2, err := m.GetContext(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}

	if calls != 1 {
		t.Errorf("Summarizer should run once for the same candidate set, ran %d times", calls)
	}
	if cx1.DigestContent != cx2.DigestContent || len(cx1.VerbatimTurns) != len(cx2.VerbatimTurns) {
		t.Error("Repeated GetContext returned different results")
	}
}

func TestSummarizerFailureDegrades(t *testing.T) {
	failing := summarizerFunc(func(ctx context.Context, prior string, candidates []store.Turn) (string, error) {
		return "", fmt.Errorf("%w: model unreachable", summarize.ErrSummarization)
	})
	m, _ := newTestManager(t, failing)
	addTurns(t, m, "s1", 6)

	cx, err := m.GetContext(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetContext must not propagate summarizer errors, got %v", err)
	}
	if cx.HasDigest {
		t.Error("Expected no digest after failed summarization")
	}
	if len(cx.VerbatimTurns) != 6 {
		t.Errorf("Expected full verbatim fallback of 6 turns, got %d", len(cx.VerbatimTurns))
	}
}

func TestClearRoundTrip(t *testing.T) {
	m, s := newTestManager(t, nil)
	addTurns(t, m, "s1", 6)
	if _, err := m.GetContext(context.Background(), "s1"); err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}

	if err := m.Clear(context.Background(), "s1", false); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	turns, _ := s.GetTurns("s1", 0)
	if len(turns) != 0 {
		t.Errorf("Expected no turns after clear, got %d", len(turns))
	}
	digest, _ := s.GetDigest("s1")
	if digest != nil {
		t.Errorf("Expected no digest after clear, got %+v", digest)
	}

	// The session is reusable and numbering restarts.
	turn, _, err := m.AddTurn(context.Background(), "s1", store.RoleUser, "fresh start")
	if err != nil {
		t.Fatalf("AddTurn after clear failed: %v", err)
	}
	if turn.Seq != 1 {
		t.Errorf("Expected seq 1 after clear, got %d", turn.Seq)
	}
}

func TestConcurrentAppendsStayGapless(t *testing.T) {
	m, s := newTestManager(t, nil)

	const writers = 8
	const perWriter = 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, _, err := m.AddTurn(context.Background(), "s1", store.RoleUser, "concurrent"); err != nil {
					t.Errorf("AddTurn failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	turns, _ := s.GetTurns("s1", 0)
	if len(turns) != writers*perWriter {
		t.Fatalf("Expected %d turns, got %d", writers*perWriter, len(turns))
	}
	for i, turn := range turns {
		if turn.Seq != int64(i)+1 {
			t.Fatalf("Sequence gap at index %d: seq %d", i, turn.Seq)
		}
	}
}

func TestSessionsDoNotInterleave(t *testing.T) {
	m, s := newTestManager(t, nil)

	var wg sync.WaitGroup
	for _, id := range []string{"A", "B"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				if _, _, err := m.AddTurn(context.Background(), id, store.RoleUser, "session "+id); err != nil {
					t.Errorf("AddTurn failed: %v", err)
					return
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"A", "B"} {
		turns, _ := s.GetTurns(id, 0)
		if len(turns) != 30 {
			t.Errorf("Session %s has %d turns, expected 30", id, len(turns))
		}
		for i, turn := range turns {
			if turn.SessionID != id {
				t.Errorf("Session %s holds a foreign turn: %+v", id, turn)
			}
			if turn.Seq != int64(i)+1 {
				t.Errorf("Session %s has a gap at %d", id, i)
			}
		}
	}
}

func TestStaleSummarizationDiscardedAfterClear(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := summarizerFunc(func(ctx context.Context, prior string, candidates []store.Turn) (string, error) {
		close(started)
		<-release
		return "stale digest", nil
	})

	m, s := newTestManager(t, slow)
	addTurns(t, m, "s1", 6)

	done := make(chan Context, 1)
	go func() {
		cx, err := m.GetContext(context.Background(), "s1")
		if err != nil {
			t.Errorf("GetContext failed: %v", err)
		}
		done <- cx
	}()

	// Clear the session while the model call is in flight. The summarizer
	// runs outside the session lock, so this must not deadlock.
	<-started
	if err := m.Clear(context.Background(), "s1", false); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	close(release)
	<-done

	// The stale result must not have been persisted.
	digest, _ := s.GetDigest("s1")
	if digest != nil {
		t.Errorf("Stale digest was persisted: %+v", digest)
	}
}

func TestStaleSummarizationDiscardedAfterClearAndRefill(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := summarizerFunc(func(ctx context.Context, prior string, candidates []store.Turn) (string, error) {
		close(started)
		<-release
		return "digest of deleted turns", nil
	})

	m, s := newTestManager(t, slow)
	addTurns(t, m, "s1", 6)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := m.GetContext(context.Background(), "s1"); err != nil {
			t.Errorf("GetContext failed: %v", err)
		}
	}()

	// Clear and immediately refill while the model call is in flight. The
	// new turns reuse seqs 1..6, so coverage numbers alone cannot tell the
	// refilled session from the snapshot the summarizer worked on.
	<-started
	if err := m.Clear(context.Background(), "s1", false); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	addTurns(t, m, "s1", 6)
	close(release)
	<-done

	digest, _ := s.GetDigest("s1")
	if digest != nil && digest.Content == "digest of deleted turns" {
		t.Fatalf("Digest of the deleted conversation was persisted over the new session: %+v", digest)
	}
	if digest != nil {
		t.Errorf("No digest should exist for the refilled session yet, got %+v", digest)
	}
}

func TestGuardBlocksTurn(t *testing.T) {
	g := guard.New(guard.Policy{AllowedRoles: []store.Role{store.RoleUser}}, nil)
	m, s := newTestManager(t, nil, WithGuard(g))

	turn, out, err := m.AddTurn(context.Background(), "s1", store.RoleSystem, "sneaky")
	if err != nil {
		t.Fatalf("Blocked turns must not be errors: %v", err)
	}
	if out.Allowed {
		t.Fatal("Expected a blocked outcome")
	}
	if out.Rule != "allowed_roles" {
		t.Errorf("Expected allowed_roles rule, got %q", out.Rule)
	}
	if turn.Seq != 0 {
		t.Errorf("Blocked turn must not be stored, got %+v", turn)
	}
	turns, _ := s.GetTurns("s1", 0)
	if len(turns) != 0 {
		t.Error("Blocked turn reached storage")
	}

	_, out, err = m.AddTurn(context.Background(), "s1", store.RoleUser, "fine")
	if err != nil || !out.Allowed {
		t.Errorf("Allowed turn failed: %v / %+v", err, out)
	}
}

func TestArchiveAndSearch(t *testing.T) {
	stub := provider.NewStubProvider()
	m, _ := newTestManager(t, nil, WithEmbedder(stub))
	addTurns(t, m, "s1", 6)
	if _, err := m.GetContext(context.Background(), "s1"); err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}

	if err := m.Clear(context.Background(), "s1", true); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	hits, err := m.Search(context.Background(), "[4 earlier turns through #4]", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].SessionID != "s1" {
		t.Fatalf("Expected the archived digest, got %+v", hits)
	}
}

func TestSearchWithoutEmbedder(t *testing.T) {
	m, _ := newTestManager(t, nil)
	if _, err := m.Search(context.Background(), "anything", 3); err == nil {
		t.Error("Expected error without an embedder")
	}
}

// summarizerFunc adapts a func to summarize.Summarizer.
type summarizerFunc func(ctx context.Context, prior string, candidates []store.Turn) (string, error)

func (f summarizerFunc) Summarize(ctx context.Context, prior string, candidates []store.Turn) (string, error) {
	return f(ctx, prior, candidates)
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
	if err := (Config{}).Validate(); err == nil {
		t.Error("Zero config must not validate; callers start from DefaultConfig")
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ZeroKeep", func(c *Config) { c.KeepVerbatim = 0 }},
		{"ZeroTrigger", func(c *Config) { c.SummarizeTrigger = 0 }},
		{"NegativeBudget", func(c *Config) { c.MaxDigestTokens = -1 }},
		{"NegativeTimeout", func(c *Config) { c.ModelTimeout = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

