package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charla-ai/charla/internal/consts"
	"github.com/charla-ai/charla/internal/session"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "charla.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndLookupUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateUser(ctx, "maria", "hash:abc")
	require.NoError(t, err)
	require.NotZero(t, id)

	gotID, hash, err := s.LookupUser(ctx, "maria")
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, "hash:abc", hash)
}

func TestCreateUserDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, "maria", "h1")
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, "maria", "h2")
	assert.ErrorIs(t, err, ErrDuplicateUser)
}

func TestLookupMissingUser(t *testing.T) {
	s := openTestStore(t)

	_, _, err := s.LookupUser(context.Background(), "nadie")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	userID, err := s.CreateUser(ctx, "maria", "h")
	require.NoError(t, err)

	first, err := s.CreateSession(ctx, userID, "Sesión Inicial")
	require.NoError(t, err)
	second, err := s.CreateSession(ctx, userID, "")
	require.NoError(t, err)

	infos, err := s.ListSessions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	// Most recent first; same timestamp resolution falls back to id order.
	assert.Equal(t, second, infos[0].ID)
	assert.Equal(t, "Sesión de Chat", infos[0].Name)
	assert.Equal(t, first, infos[1].ID)

	require.NoError(t, s.RenameSession(ctx, first, "Dudas"))
	infos, err = s.ListSessions(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "Dudas", infos[1].Name)

	require.NoError(t, s.DeleteSession(ctx, second))
	infos, err = s.ListSessions(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestSessionNameClampsByRunes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	userID, err := s.CreateUser(ctx, "maria", "h")
	require.NoError(t, err)

	// Every rune is multi-byte, so a byte-based clamp would cut mid-rune.
	long := strings.Repeat("ñ", consts.MaxSessionNameLen+5)

	sessionID, err := s.CreateSession(ctx, userID, long)
	require.NoError(t, err)

	infos, err := s.ListSessions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.True(t, utf8.ValidString(infos[0].Name))
	assert.Equal(t, consts.MaxSessionNameLen, utf8.RuneCountInString(infos[0].Name))

	require.NoError(t, s.RenameSession(ctx, sessionID, "Sesión "+long))
	infos, err = s.ListSessions(ctx, userID)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(infos[0].Name))
	assert.Equal(t, consts.MaxSessionNameLen, utf8.RuneCountInString(infos[0].Name))
}

func TestRenameMissingSession(t *testing.T) {
	s := openTestStore(t)
	err := s.RenameSession(context.Background(), 999, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessageOrderRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	userID, err := s.CreateUser(ctx, "maria", "h")
	require.NoError(t, err)
	sessionID, err := s.CreateSession(ctx, userID, "charla")
	require.NoError(t, err)

	turns := []session.Message{
		{Role: session.RoleUser, Text: "Hola"},
		{Role: session.RoleAssistant, Text: "Hola, ¿cómo puedo ayudarte hoy?"},
		{Role: session.RoleUser, Text: "ayuda"},
		{Role: session.RoleAssistant, Text: "Claro, te cuento paso a paso."},
	}
	for _, m := range turns {
		require.NoError(t, s.AppendMessage(ctx, sessionID, m))
	}

	loaded, err := s.LoadMessages(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, loaded, len(turns))
	for i := range turns {
		assert.Equal(t, turns[i].Role, loaded[i].Role, "turn %d", i)
		assert.Equal(t, turns[i].Text, loaded[i].Text, "turn %d", i)
		assert.False(t, loaded[i].CreatedAt.IsZero())
	}
}

func TestAppendMessageInvalidRole(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	userID, _ := s.CreateUser(ctx, "maria", "h")
	sessionID, _ := s.CreateSession(ctx, userID, "charla")

	err := s.AppendMessage(ctx, sessionID, session.Message{Role: "ROBOT", Text: "x"})
	assert.Error(t, err)
}

func TestAppendMessageToDeletedSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	userID, _ := s.CreateUser(ctx, "maria", "h")
	sessionID, _ := s.CreateSession(ctx, userID, "charla")
	require.NoError(t, s.DeleteSession(ctx, sessionID))

	err := s.AppendMessage(ctx, sessionID, session.Message{
		Role: session.RoleAssistant, Text: "tarde", CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUserCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	userID, _ := s.CreateUser(ctx, "maria", "h")
	sessionID, _ := s.CreateSession(ctx, userID, "charla")
	require.NoError(t, s.AppendMessage(ctx, sessionID, session.Message{
		Role: session.RoleUser, Text: "Hola",
	}))

	require.NoError(t, s.DeleteUser(ctx, userID))

	infos, err := s.ListSessions(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, infos)

	msgs, err := s.LoadMessages(ctx, sessionID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDeleteUserSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	userID, _ := s.CreateUser(ctx, "maria", "h")
	s.CreateSession(ctx, userID, "a")
	s.CreateSession(ctx, userID, "b")

	require.NoError(t, s.DeleteUserSessions(ctx, userID))

	infos, err := s.ListSessions(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, infos)

	// The account itself survives.
	_, _, err = s.LookupUser(ctx, "maria")
	assert.NoError(t, err)
}
