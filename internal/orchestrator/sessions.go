package orchestrator

import (
	"context"

	"github.com/charla-ai/charla/internal/consts"
	"github.com/charla-ai/charla/internal/session"
)

// CreateSession creates a session for the orchestrator's user and makes it
// the active session.
func (o *Orchestrator) CreateSession(ctx context.Context, name string) (int64, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return 0, ErrShutdown
	}
	userID := o.userID
	o.mu.Unlock()

	storeCtx, cancel := context.WithTimeout(ctx, consts.StoreTimeout)
	defer cancel()
	id, err := o.store.CreateSession(storeCtx, userID, name)
	if err != nil {
		return 0, err
	}
	if err := o.SwitchSession(ctx, id); err != nil {
		return 0, err
	}
	return id, nil
}

// ListSessions returns the user's sessions, most recent first.
func (o *Orchestrator) ListSessions(ctx context.Context) ([]session.Info, error) {
	o.mu.Lock()
	userID := o.userID
	o.mu.Unlock()

	storeCtx, cancel := context.WithTimeout(ctx, consts.StoreTimeout)
	defer cancel()
	return o.store.ListSessions(storeCtx, userID)
}

// RenameSession updates a session's display name.
func (o *Orchestrator) RenameSession(ctx context.Context, sessionID int64, name string) error {
	storeCtx, cancel := context.WithTimeout(ctx, consts.StoreTimeout)
	defer cancel()
	return o.store.RenameSession(storeCtx, sessionID, name)
}

// DeleteSession removes a session and its messages. A task running on it is
// cancelled first; deleting the active session leaves no session active.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID int64) error {
	o.mu.Lock()
	st := o.sessions[sessionID]
	o.mu.Unlock()
	if st != nil {
		o.cancelAndWait(sessionID, st)
	}

	storeCtx, cancel := context.WithTimeout(ctx, consts.StoreTimeout)
	defer cancel()
	if err := o.store.DeleteSession(storeCtx, sessionID); err != nil {
		return err
	}

	o.mu.Lock()
	delete(o.sessions, sessionID)
	if o.activeID == sessionID {
		o.activeID = 0
	}
	o.mu.Unlock()
	return nil
}

// DeleteAllSessions removes every session belonging to the user. Running
// tasks are cancelled before the store is touched.
func (o *Orchestrator) DeleteAllSessions(ctx context.Context) error {
	o.mu.Lock()
	userID := o.userID
	pending := make(map[int64]*sessionState, len(o.sessions))
	for id, st := range o.sessions {
		pending[id] = st
	}
	o.mu.Unlock()

	for id, st := range pending {
		o.cancelAndWait(id, st)
	}

	storeCtx, cancel := context.WithTimeout(ctx, consts.StoreTimeout)
	defer cancel()
	if err := o.store.DeleteUserSessions(storeCtx, userID); err != nil {
		return err
	}

	o.mu.Lock()
	o.sessions = make(map[int64]*sessionState)
	o.activeID = 0
	o.mu.Unlock()
	return nil
}
