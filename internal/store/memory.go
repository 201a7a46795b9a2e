package store

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Storage used by tests and by hosts that do not
// need durability. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
	memories []MemoryItem
	vectors  [][]float32
	config   map[string]string
}

type memSession struct {
	createdAt time.Time
	turns     []Turn
	digest    *Digest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memSession),
		config:   make(map[string]string),
	}
}

func (m *MemoryStore) AppendTurn(sessionID string, role Role, content string, tokenCount int) (Turn, error) {
	if !ValidRole(role) {
		return Turn{}, fmt.Errorf("invalid role: %q", role)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	sess, ok := m.sessions[sessionID]
	if !ok {
		sess = &memSession{createdAt: now}
		m.sessions[sessionID] = sess
	}

	turn := Turn{
		SessionID:  sessionID,
		Seq:        int64(len(sess.turns)) + 1,
		Role:       role,
		Content:    content,
		TokenCount: tokenCount,
		CreatedAt:  now,
	}
	sess.turns = append(sess.turns, turn)
	return turn, nil
}

func (m *MemoryStore) GetTurns(sessionID string, fromSeq int64) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return []Turn{}, nil
	}

	turns := []Turn{}
	for _, t := range sess.turns {
		if t.Seq > fromSeq {
			turns = append(turns, t)
		}
	}
	return turns, nil
}

func (m *MemoryStore) GetDigest(sessionID string) (*Digest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok || sess.digest == nil {
		return nil, nil
	}
	d := *sess.digest
	return &d, nil
}

func (m *MemoryStore) SetDigest(sessionID string, d Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	sess.digest = &d
	return nil
}

func (m *MemoryStore) ClearSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) ListSessions() ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		sessions = append(sessions, Session{ID: id, CreatedAt: sess.createdAt, TurnCount: len(sess.turns)})
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (m *MemoryStore) AddMemory(sessionID, content string, vector []float32, meta map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.memories = append(m.memories, MemoryItem{SessionID: sessionID, Content: content, Metadata: meta})
	m.vectors = append(m.vectors, vector)
	return nil
}

func (m *MemoryStore) SearchMemory(vector []float32, limit int) ([]MemoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scored := make([]MemoryItem, len(m.memories))
	copy(scored, m.memories)
	for i := range scored {
		scored[i].Similarity = cosineSimilarity(vector, m.vectors[i])
	}
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (m *MemoryStore) SetConfig(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = value
	return nil
}

func (m *MemoryStore) GetConfig(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config[key], nil
}

func (m *MemoryStore) Close() error {
	return nil
}
