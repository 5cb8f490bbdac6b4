package run

import (
	"encoding/json"
	"sync"
)

type sessionKey struct {
	owner string
	kind  string
}

// SessionStore keeps per-user wizard state (selected filters, draft
// target lists, draft summary text) keyed by owner and run kind. The
// payload is opaque JSON, replaced wholesale on every save, and is lost
// on process restart. It is unrelated to any specific run.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[sessionKey]json.RawMessage
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[sessionKey]json.RawMessage),
	}
}

// Get returns the last saved payload, or an empty JSON object when the
// user has no session for the kind.
func (s *SessionStore) Get(owner, kind string) json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if payload, ok := s.sessions[sessionKey{owner, kind}]; ok {
		return payload
	}

	return json.RawMessage(`{}`)
}

// Save replaces the user's session payload for the kind.
func (s *SessionStore) Save(owner, kind string, payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionKey{owner, kind}] = payload
}

// Clear removes the user's session for the kind.
func (s *SessionStore) Clear(owner, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionKey{owner, kind})
}
