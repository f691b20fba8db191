// Package memstore provides an in-memory implementation of care.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/erpath/internal/care"
)

// Store holds sessions in memory. Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*care.Session
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{sessions: make(map[string]*care.Session)}
}

// Get retrieves a session by its ID. Returns a deep copy.
func (s *Store) Get(_ context.Context, id string) (*care.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return sess.Clone(), true, nil
}

// Put stores a deep copy of the session.
func (s *Store) Put(_ context.Context, sess *care.Session) error {
	cp := sess.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = cp
	return nil
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
