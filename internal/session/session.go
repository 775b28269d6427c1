// Package session defines the conversation domain types shared by the
// store, the orchestrator and the UI.
package session

import "time"

// Role identifies who produced a message. Roles are structured data from
// creation; they are never recovered by parsing rendered text.
type Role string

const (
	// RoleUser marks a message typed by the user
	RoleUser Role = "USER"
	// RoleAssistant marks a generated reply
	RoleAssistant Role = "ASSISTANT"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one immutable conversation turn. Messages are only ever
// appended, never edited.
type Message struct {
	Role      Role
	Text      string
	CreatedAt time.Time
}

// Info is the session metadata row used for listings.
type Info struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}
