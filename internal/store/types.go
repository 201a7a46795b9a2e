package store

import (
	"errors"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Turn is one message in a session. Immutable once written.
type Turn struct {
	SessionID  string
	Seq        int64 // per-session, gapless, starts at 1
	Role       Role
	Content    string
	TokenCount int
	CreatedAt  time.Time
}

// Digest is a model-generated summary replacing a contiguous prefix of turns.
// A session has at most one digest; a new one supersedes the old and covers
// a larger prefix.
type Digest struct {
	SessionID     string
	CoversThrough int64 // highest seq folded into the digest
	Content       string
	TokenCount    int
	GeneratedAt   time.Time
}

// Session is a logical conversation thread.
type Session struct {
	ID        string
	CreatedAt time.Time
	TurnCount int
}

// MemoryItem is a long-term memory hit returned from semantic search.
type MemoryItem struct {
	SessionID  string
	Content    string
	Metadata   map[string]string
	Similarity float32
}

// ErrSessionNotFound is returned where an existing session row is required.
var ErrSessionNotFound = errors.New("session not found")

// Storage defines the persistence boundary. Turns are append-only and are
// stored independently of digests; replacing a digest never deletes turns.
type Storage interface {
	// AppendTurn assigns the next sequence number and persists the turn.
	// The session row is created on first append.
	AppendTurn(sessionID string, role Role, content string, tokenCount int) (Turn, error)

	// GetTurns returns ordered turns with seq > fromSeq. An unknown session
	// yields an empty slice, not an error.
	GetTurns(sessionID string, fromSeq int64) ([]Turn, error)

	// GetDigest returns the current digest, or nil if none exists.
	GetDigest(sessionID string) (*Digest, error)

	// SetDigest atomically replaces the prior digest.
	SetDigest(sessionID string, d Digest) error

	// ClearSession deletes all turns and the digest. Idempotent.
	ClearSession(sessionID string) error

	// ListSessions returns all known sessions, oldest first.
	ListSessions() ([]Session, error)

	// Long-term memory archive
	AddMemory(sessionID, content string, vector []float32, meta map[string]string) error
	SearchMemory(vector []float32, limit int) ([]MemoryItem, error)

	// Configuration
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)

	Close() error
}
