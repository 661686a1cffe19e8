// Package memory is an in-process SessionStore for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tjfontaine/polyglot-chat-backend/internal/storage"
)

// Store is an in-memory implementation of SessionStore
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*storage.Session
	messages map[string][]storage.StoredMessage
}

var _ storage.SessionStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		sessions: make(map[string]*storage.Session),
		messages: make(map[string][]storage.StoredMessage),
	}
}

func (s *Store) CreateSession(ctx context.Context, sess *storage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already exists", sess.ID)
	}

	now := time.Now()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[id]
	if !exists {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; !exists {
		return fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs []*storage.StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[sessionID]
	if !exists {
		return fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}

	now := time.Now()
	for _, msg := range msgs {
		msg.SessionID = sessionID
		msg.CreatedAt = now
		s.messages[sessionID] = append(s.messages[sessionID], *msg)
	}
	sess.UpdatedAt = now
	return nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]storage.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}

	out := make([]storage.StoredMessage, len(s.messages[sessionID]))
	copy(out, s.messages[sessionID])
	return out, nil
}

func (s *Store) ClearMessages(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	delete(s.messages, sessionID)
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}
