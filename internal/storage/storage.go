// Package storage defines persistence for chat sessions and their messages.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// Session is one chat thread. Its ID is the subject of the session token.
type Session struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// StoredMessage is a persisted canonical message.
type StoredMessage struct {
	ID         string    `json:"id" db:"id"`
	SessionID  string    `json:"-" db:"session_id"`
	Role       string    `json:"role" db:"role"`
	Content    string    `json:"content" db:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty" db:"tool_call_id"`
	Model      string    `json:"model,omitempty" db:"model"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// SessionStore persists sessions and their message history.
type SessionStore interface {
	// CreateSession stores a new session
	CreateSession(ctx context.Context, s *Session) error

	// GetSession retrieves a session by ID
	GetSession(ctx context.Context, id string) (*Session, error)

	// DeleteSession removes a session and its messages
	DeleteSession(ctx context.Context, id string) error

	// AppendMessages adds messages to the end of a session's history
	AppendMessages(ctx context.Context, sessionID string, msgs []*StoredMessage) error

	// ListMessages returns a session's history, oldest first
	ListMessages(ctx context.Context, sessionID string) ([]StoredMessage, error)

	// ClearMessages removes a session's history but keeps the session
	ClearMessages(ctx context.Context, sessionID string) error

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error

	// Close closes the storage connection
	Close() error
}
