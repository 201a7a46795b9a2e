package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStores(t *testing.T) map[string]Storage {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "store-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	sqlStore, err := NewSQLiteStore(filepath.Join(tmpDir, "recall.db"))
	if err != nil {
		t.Fatalf("Failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]Storage{
		"sqlite": sqlStore,
		"memory": NewMemoryStore(),
	}
}

func TestStorage(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			testStorage(t, s)
		})
	}
}

func testStorage(t *testing.T, s Storage) {
	t.Run("AppendAssignsGaplessSequence", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			turn, err := s.AppendTurn("s1", RoleUser, "hello", 2)
			if err != nil {
				t.Fatalf("AppendTurn failed: %v", err)
			}
			if turn.Seq != int64(i) {
				t.Errorf("Expected seq %d, got %d", i, turn.Seq)
			}
		}

		turns, err := s.GetTurns("s1", 0)
		if err != nil {
			t.Fatalf("GetTurns failed: %v", err)
		}
		if len(turns) != 3 {
			t.Fatalf("Expected 3 turns, got %d", len(turns))
		}
		for i, turn := range turns {
			if turn.Seq != int64(i)+1 {
				t.Errorf("Turn %d has seq %d", i, turn.Seq)
			}
		}
	})

	t.Run("GetTurnsFromSequence", func(t *testing.T) {
		turns, err := s.GetTurns("s1", 2)
		if err != nil {
			t.Fatalf("GetTurns failed: %v", err)
		}
		if len(turns) != 1 || turns[0].Seq != 3 {
			t.Errorf("Expected only seq 3, got %v", turns)
		}
	})

	t.Run("UnknownSessionIsEmptyNotError", func(t *testing.T) {
		turns, err := s.GetTurns("missing", 0)
		if err != nil {
			t.Fatalf("GetTurns failed: %v", err)
		}
		if len(turns) != 0 {
			t.Errorf("Expected no turns, got %d", len(turns))
		}
	})

	t.Run("InvalidRoleRejected", func(t *testing.T) {
		if _, err := s.AppendTurn("s1", Role("robot"), "beep", 1); err == nil {
			t.Error("Expected error for invalid role")
		}
	})

	t.Run("DigestRoundTrip", func(t *testing.T) {
		d, err := s.GetDigest("s1")
		if err != nil {
			t.Fatalf("GetDigest failed: %v", err)
		}
		if d != nil {
			t.Fatalf("Expected no digest, got %+v", d)
		}

		want := Digest{
			SessionID:     "s1",
			CoversThrough: 2,
			Content:       "two turns of pleasantries",
			TokenCount:    5,
			GeneratedAt:   time.Now().UTC(),
		}
		if err := s.SetDigest("s1", want); err != nil {
			t.Fatalf("SetDigest failed: %v", err)
		}

		got, err := s.GetDigest("s1")
		if err != nil {
			t.Fatalf("GetDigest failed: %v", err)
		}
		if got == nil || got.CoversThrough != 2 || got.Content != want.Content {
			t.Errorf("Digest mismatch: %+v", got)
		}

		// Replacement covers a larger prefix and must not lose turns.
		want.CoversThrough = 3
		want.Content = "three turns"
		if err := s.SetDigest("s1", want); err != nil {
			t.Fatalf("SetDigest replace failed: %v", err)
		}
		got, _ = s.GetDigest("s1")
		if got.CoversThrough != 3 {
			t.Errorf("Expected covers_through 3, got %d", got.CoversThrough)
		}
		turns, _ := s.GetTurns("s1", 0)
		if len(turns) != 3 {
			t.Errorf("SetDigest must not delete turns, got %d", len(turns))
		}
	})

	t.Run("ListSessions", func(t *testing.T) {
		if _, err := s.AppendTurn("s2", RoleUser, "hi", 1); err != nil {
			t.Fatalf("AppendTurn failed: %v", err)
		}
		sessions, err := s.ListSessions()
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		if len(sessions) != 2 {
			t.Errorf("Expected 2 sessions, got %d", len(sessions))
		}
		for _, sess := range sessions {
			if sess.ID == "s2" && sess.TurnCount != 1 {
				t.Errorf("Expected 1 turn for s2, got %d", sess.TurnCount)
			}
		}
	})

	t.Run("ClearSession", func(t *testing.T) {
		if err := s.ClearSession("s1"); err != nil {
			t.Fatalf("ClearSession failed: %v", err)
		}
		turns, err := s.GetTurns("s1", 0)
		if err != nil || len(turns) != 0 {
			t.Errorf("Expected empty turns after clear, got %v (%v)", turns, err)
		}
		d, err := s.GetDigest("s1")
		if err != nil || d != nil {
			t.Errorf("Expected nil digest after clear, got %+v (%v)", d, err)
		}

		// Idempotent.
		if err := s.ClearSession("s1"); err != nil {
			t.Errorf("Second ClearSession failed: %v", err)
		}

		// Session may be reused; numbering restarts at 1.
		turn, err := s.AppendTurn("s1", RoleUser, "back again", 3)
		if err != nil {
			t.Fatalf("AppendTurn after clear failed: %v", err)
		}
		if turn.Seq != 1 {
			t.Errorf("Expected seq 1 after clear, got %d", turn.Seq)
		}
	})

	t.Run("Config", func(t *testing.T) {
		if err := s.SetConfig("provider", "openai"); err != nil {
			t.Fatalf("SetConfig failed: %v", err)
		}
		val, err := s.GetConfig("provider")
		if err != nil || val != "openai" {
			t.Errorf("Expected 'openai', got %q (%v)", val, err)
		}
		val, _ = s.GetConfig("unknown")
		if val != "" {
			t.Errorf("Expected empty value for unknown key, got %q", val)
		}
	})

	t.Run("MemoryArchive", func(t *testing.T) {
		if err := s.AddMemory("s1", "user prefers terse answers", []float32{1, 0, 0}, map[string]string{"kind": "digest"}); err != nil {
			t.Fatalf("AddMemory failed: %v", err)
		}
		if err := s.AddMemory("s2", "long discussion about trains", []float32{0, 1, 0}, nil); err != nil {
			t.Fatalf("AddMemory failed: %v", err)
		}

		hits, err := s.SearchMemory([]float32{1, 0, 0}, 1)
		if err != nil {
			t.Fatalf("SearchMemory failed: %v", err)
		}
		if len(hits) != 1 || hits[0].SessionID != "s1" {
			t.Errorf("Expected s1 memory first, got %+v", hits)
		}
		if hits[0].Similarity < 0.99 {
			t.Errorf("Expected similarity ~1, got %f", hits[0].Similarity)
		}
	})
}

func TestCosineSimilarity(t *testing.T) {
	if sim := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); sim != 0 {
		t.Errorf("Orthogonal vectors should score 0, got %f", sim)
	}
	if sim := cosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); sim != 0 {
		t.Errorf("Mismatched lengths should score 0, got %f", sim)
	}
	if sim := cosineSimilarity([]float32{3, 4}, []float32{3, 4}); sim < 0.999 {
		t.Errorf("Identical vectors should score 1, got %f", sim)
	}
}
