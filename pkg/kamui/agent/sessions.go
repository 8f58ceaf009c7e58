package agent

import "sync"

// Sessions tracks pending conversation resets per session id. Continuation
// itself is owned by the agent CLI (-c); only the "start fresh once" flag is
// kept here.
type Sessions struct {
	mu      sync.Mutex
	pending map[string]bool
}

// NewSessions creates an empty session table.
func NewSessions() *Sessions {
	return &Sessions{pending: make(map[string]bool)}
}

// Reset makes the next request for id start a fresh conversation.
func (s *Sessions) Reset(id string) {
	s.mu.Lock()
	s.pending[id] = true
	s.mu.Unlock()
}

// Continue consumes a pending reset for id. It returns false exactly once
// after Reset, and def otherwise.
func (s *Sessions) Continue(id string, def bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[id] {
		delete(s.pending, id)
		return false
	}
	return def
}

// Pending reports whether id has an unconsumed reset.
func (s *Sessions) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[id]
}
