// Package auth implements registration and login on top of the store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charla-ai/charla/internal/logger"
	"github.com/charla-ai/charla/internal/store"
)

var (
	// ErrInvalidCredentials is returned for an unknown user or wrong password.
	// The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrEmptyCredentials is returned when username or password is blank
	ErrEmptyCredentials = errors.New("username and password must not be empty")
)

// Service provides account operations backed by the store.
type Service struct {
	store store.Store
	log   *logger.Logger
}

// NewService creates an auth service.
func NewService(st store.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Global()
	}
	return &Service{store: st, log: log.WithPrefix("auth")}
}

// Register creates a new account and returns its user id.
func (s *Service) Register(ctx context.Context, username, password string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return 0, ErrEmptyCredentials
	}

	hash, err := HashPassword(password)
	if err != nil {
		return 0, fmt.Errorf("register: %w", err)
	}

	id, err := s.store.CreateUser(ctx, username, hash)
	if err != nil {
		return 0, err
	}
	s.log.Info("registered user %q (id=%d)", username, id)
	return id, nil
}

// Login verifies the credentials and returns the user id.
func (s *Service) Login(ctx context.Context, username, password string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return 0, ErrEmptyCredentials
	}

	id, hash, err := s.store.LookupUser(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	if !VerifyPassword(password, hash) {
		s.log.Warn("failed login attempt for %q", username)
		return 0, ErrInvalidCredentials
	}

	s.log.Info("user %q logged in (id=%d)", username, id)
	return id, nil
}

// DeleteAccount removes the user and, by cascade, all sessions and messages.
func (s *Service) DeleteAccount(ctx context.Context, userID int64) error {
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.log.Info("deleted account id=%d", userID)
	return nil
}

// DeleteAllChats removes every session owned by the user, keeping the account.
func (s *Service) DeleteAllChats(ctx context.Context, userID int64) error {
	if err := s.store.DeleteUserSessions(ctx, userID); err != nil {
		return err
	}
	s.log.Info("deleted all sessions for user id=%d", userID)
	return nil
}
