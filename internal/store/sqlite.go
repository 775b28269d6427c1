package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charla-ai/charla/internal/consts"
	"github.com/charla-ai/charla/internal/session"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at dbPath and ensures
// the schema is current.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		session_name TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('USER', 'ASSISTANT')),
		message TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES chat_sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// wrapErr maps driver-level failures onto the store error taxonomy.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// clampName limits a session name to MaxSessionNameLen runes. Clamping by
// bytes could split a multi-byte rune and persist invalid UTF-8.
func clampName(name string) string {
	if r := []rune(name); len(r) > consts.MaxSessionNameLen {
		return string(r[:consts.MaxSessionNameLen])
	}
	return name
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// CreateUser registers a user and returns the new id.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, fmt.Errorf("create user: %w: empty username", ErrNotFound)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash) VALUES (?, ?)",
		username, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("create user: %w", ErrDuplicateUser)
		}
		return 0, wrapErr("create user", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapErr("create user", err)
	}
	return id, nil
}

// LookupUser returns the id and credential hash for username.
func (s *SQLiteStore) LookupUser(ctx context.Context, username string) (int64, string, error) {
	var (
		id   int64
		hash string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, password_hash FROM users WHERE username = ?", username).
		Scan(&id, &hash)
	if err != nil {
		return 0, "", wrapErr("lookup user", err)
	}
	return id, hash, nil
}

// DeleteUser removes the account; owned sessions and messages cascade.
func (s *SQLiteStore) DeleteUser(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", userID)
	if err != nil {
		return wrapErr("delete user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete user %d: %w", userID, ErrNotFound)
	}
	return nil
}

// CreateSession creates a session for userID and returns its id.
func (s *SQLiteStore) CreateSession(ctx context.Context, userID int64, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Sesión de Chat"
	}
	name = clampName(name)

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO chat_sessions (user_id, session_name) VALUES (?, ?)",
		userID, name)
	if err != nil {
		return 0, wrapErr("create session", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapErr("create session", err)
	}
	return id, nil
}

// RenameSession updates the display name only.
func (s *SQLiteStore) RenameSession(ctx context.Context, sessionID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("rename session %d: %w: empty name", sessionID, ErrNotFound)
	}
	name = clampName(name)

	res, err := s.db.ExecContext(ctx,
		"UPDATE chat_sessions SET session_name = ? WHERE id = ?", name, sessionID)
	if err != nil {
		return wrapErr("rename session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rename session %d: %w", sessionID, ErrNotFound)
	}
	return nil
}

// DeleteSession removes one session; its messages cascade.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chat_sessions WHERE id = ?", sessionID)
	if err != nil {
		return wrapErr("delete session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete session %d: %w", sessionID, ErrNotFound)
	}
	return nil
}

// DeleteUserSessions removes every session owned by userID.
func (s *SQLiteStore) DeleteUserSessions(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM chat_sessions WHERE user_id = ?", userID)
	if err != nil {
		return wrapErr("delete user sessions", err)
	}
	return nil
}

// ListSessions returns the user's sessions, most recent first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID int64) ([]session.Info, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_name, created_at
		FROM chat_sessions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, wrapErr("list sessions", err)
	}
	defer rows.Close()

	var infos []session.Info
	for rows.Next() {
		var info session.Info
		if err := rows.Scan(&info.ID, &info.Name, &info.CreatedAt); err != nil {
			return nil, wrapErr("list sessions", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list sessions", err)
	}
	return infos, nil
}

// AppendMessage appends one turn. Appending to a deleted session fails with
// a foreign-key violation surfaced as ErrNotFound.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID int64, msg session.Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("append message: invalid role %q", msg.Role)
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (session_id, role, message, created_at) VALUES (?, ?, ?, ?)",
		sessionID, string(msg.Role), msg.Text, createdAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("append message: session %d: %w", sessionID, ErrNotFound)
		}
		return wrapErr("append message", err)
	}
	return nil
}

// LoadMessages returns the session's turns in creation order.
func (s *SQLiteStore) LoadMessages(ctx context.Context, sessionID int64) ([]session.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, message, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, wrapErr("load messages", err)
	}
	defer rows.Close()

	var msgs []session.Message
	for rows.Next() {
		var (
			role string
			msg  session.Message
		)
		if err := rows.Scan(&role, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, wrapErr("load messages", err)
		}
		msg.Role = session.Role(role)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("load messages", err)
	}
	return msgs, nil
}
