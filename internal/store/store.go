// Package store persists users, chat sessions and their ordered messages.
package store

import (
	"context"
	"errors"

	"github.com/charla-ai/charla/internal/session"
)

var (
	// ErrUnavailable wraps connection or query failures. Callers surface a
	// retryable condition instead of mutating state.
	ErrUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned when the referenced row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicateUser is returned when registering an existing username
	ErrDuplicateUser = errors.New("username already taken")
)

// Store is the narrow persistence interface consumed by the auth service
// and the orchestrator. All operations fail fast; none retries internally.
type Store interface {
	// CreateUser registers a new user with an already-hashed credential.
	CreateUser(ctx context.Context, username, passwordHash string) (int64, error)
	// LookupUser returns the user id and stored credential hash.
	LookupUser(ctx context.Context, username string) (int64, string, error)
	// DeleteUser removes the user; sessions and messages cascade.
	DeleteUser(ctx context.Context, userID int64) error

	// CreateSession creates a session owned by userID and returns its id.
	CreateSession(ctx context.Context, userID int64, name string) (int64, error)
	// RenameSession mutates the display name only.
	RenameSession(ctx context.Context, sessionID int64, name string) error
	// DeleteSession removes the session; its messages cascade.
	DeleteSession(ctx context.Context, sessionID int64) error
	// DeleteUserSessions removes every session owned by userID.
	DeleteUserSessions(ctx context.Context, userID int64) error
	// ListSessions returns the user's sessions ordered by recency.
	ListSessions(ctx context.Context, userID int64) ([]session.Info, error)

	// AppendMessage appends one turn to a session.
	AppendMessage(ctx context.Context, sessionID int64, msg session.Message) error
	// LoadMessages returns a session's turns in creation order.
	LoadMessages(ctx context.Context, sessionID int64) ([]session.Message, error)

	Close() error
}
