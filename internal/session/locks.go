package session

import "sync"

// sessionState is the per-session entry: a mutex serializing writes and a
// generation counter bumped on every clear. The generation lets an
// in-flight summarization detect that the conversation it summarized was
// deleted, even if the session was refilled with new turns meanwhile.
type sessionState struct {
	mu  sync.Mutex
	gen uint64
}

// sessionLocks hands out one entry per session ID. Different sessions
// proceed in parallel; the same session is serialized. Entries are never
// evicted; a session ID costs a few dozen bytes for the process lifetime,
// which is acceptable for the cardinalities this runs at.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionState
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionState)}
}

func (s *sessionLocks) get(sessionID string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionState{}
		s.locks[sessionID] = l
	}
	return l
}
