// Package memory holds an in-process conversation store for single-instance
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/repository"
)

// SessionStore keeps sessions in a map. Values are cloned on the way in and
// out so callers never share memory with the store.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.CallSession
	writes   int
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*domain.CallSession)}
}

// Get implements repository.SessionStore.
func (s *SessionStore) Get(_ context.Context, callSID string) (*domain.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[callSID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", callSID, repository.ErrNotFound)
	}
	return sess.Clone(), nil
}

// Create implements repository.SessionStore.
func (s *SessionStore) Create(_ context.Context, sess *domain.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.CallSID]; ok {
		return fmt.Errorf("session %s: %w", sess.CallSID, repository.ErrConflict)
	}
	sess.Version = 1
	s.sessions[sess.CallSID] = sess.Clone()
	s.writes++
	return nil
}

// Update implements repository.SessionStore.
func (s *SessionStore) Update(_ context.Context, sess *domain.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[sess.CallSID]
	if !ok {
		return fmt.Errorf("session %s: %w", sess.CallSID, repository.ErrNotFound)
	}
	if current.Version != sess.Version {
		return fmt.Errorf("session %s: version %d != %d: %w", sess.CallSID, sess.Version, current.Version, repository.ErrConflict)
	}
	sess.Version++
	s.sessions[sess.CallSID] = sess.Clone()
	s.writes++
	return nil
}

// LatestActiveForCandidate implements repository.SessionStore.
func (s *SessionStore) LatestActiveForCandidate(_ context.Context, candidateID int64) (*domain.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.CallSession
	for _, sess := range s.sessions {
		if sess.CandidateID != candidateID || !sess.Active() {
			continue
		}
		if latest == nil || sess.CreatedAt.After(latest.CreatedAt) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("active session for candidate %d: %w", candidateID, repository.ErrNotFound)
	}
	return latest.Clone(), nil
}

// Writes reports how many successful writes were applied.
func (s *SessionStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

var _ repository.SessionStore = (*SessionStore)(nil)
