package executor

import (
	"sync"

	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
)

// sessionStore is a minimal in-process registry of login sessions.
// Spec §4.6 models CreateSession/RemoveSession as Commands the
// executor serializes like any other mutation, but the session store
// itself is explicitly out of scope (spec.md §1: "authentication/
// session stores ... named interfaces only") — this is the narrow slice
// the executor needs to make RemoveSession's SessionNotFound real
// rather than a no-op.
type sessionStore struct {
	mu   sync.Mutex
	byID map[string]string // sessionID -> subject
}

func newSessionStore() *sessionStore {
	return &sessionStore{byID: make(map[string]string)}
}

func (s *sessionStore) create(id, subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = subject
}

func (s *sessionStore) remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return dogerrors.New(dogerrors.CodeSessionNotFound, "session %s not found", id)
	}
	delete(s.byID, id)
	return nil
}

func (s *sessionStore) exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	return ok
}
