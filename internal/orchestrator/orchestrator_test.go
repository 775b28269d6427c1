package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charla-ai/charla/internal/llm"
	"github.com/charla-ai/charla/internal/session"
	"github.com/charla-ai/charla/internal/store"
)

const completeReply = "Claro, con gusto te ayudo con eso y cualquier otra duda que tengas sobre el tema hoy."

type endedEvent struct {
	sessionID int64
	outcome   Outcome
	err       error
}

// recordingNotifier captures events and exposes channels so tests can wait
// for asynchronous task completion without sleeping.
type recordingNotifier struct {
	mu       sync.Mutex
	appended []session.Message
	started  chan int64
	ended    chan endedEvent
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		started: make(chan int64, 16),
		ended:   make(chan endedEvent, 16),
	}
}

func (n *recordingNotifier) MessageAppended(_ int64, msg session.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.appended = append(n.appended, msg)
}

func (n *recordingNotifier) GenerationStarted(sessionID int64) {
	n.started <- sessionID
}

func (n *recordingNotifier) GenerationEnded(sessionID int64, outcome Outcome, err error) {
	n.ended <- endedEvent{sessionID: sessionID, outcome: outcome, err: err}
}

func (n *recordingNotifier) waitEnded(t *testing.T) endedEvent {
	t.Helper()
	select {
	case ev := <-n.ended:
		return ev
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for GenerationEnded")
		return endedEvent{}
	}
}

func (n *recordingNotifier) appendedMessages() []session.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]session.Message, len(n.appended))
	copy(out, n.appended)
	return out
}

type fixture struct {
	orch      *Orchestrator
	store     *store.SQLiteStore
	client    *llm.MockClient
	notifier  *recordingNotifier
	sessionID int64
}

func newFixture(t *testing.T, client *llm.MockClient) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "charla.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	userID, err := st.CreateUser(ctx, "ana", "scrypt$x$y")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	notifier := newRecordingNotifier()
	orch := New(Options{
		Store:    st,
		Client:   client,
		Notifier: notifier,
		UserID:   userID,
	})
	t.Cleanup(orch.Shutdown)

	sessionID, err := orch.CreateSession(ctx, "primera")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return &fixture{orch: orch, store: st, client: client, notifier: notifier, sessionID: sessionID}
}

func TestSubmitCompletesAndPersists(t *testing.T) {
	f := newFixture(t, llm.NewMockClient(completeReply))
	ctx := context.Background()

	if err := f.orch.Submit(ctx, "Hola"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ev := f.notifier.waitEnded(t)
	if ev.outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed (err=%v)", ev.outcome, ev.err)
	}
	if f.client.CallCount() != 1 {
		t.Errorf("provider calls = %d, want 1", f.client.CallCount())
	}

	history := f.orch.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != session.RoleUser || history[0].Text != "Hola" {
		t.Errorf("unexpected first turn %+v", history[0])
	}
	if history[1].Role != session.RoleAssistant || history[1].Text != completeReply {
		t.Errorf("unexpected second turn %+v", history[1])
	}

	stored, err := f.store.LoadMessages(ctx, f.sessionID)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("stored messages = %d, want 2", len(stored))
	}

	appended := f.notifier.appendedMessages()
	if len(appended) != 2 || appended[0].Role != session.RoleUser || appended[1].Role != session.RoleAssistant {
		t.Errorf("appended notifications = %+v", appended)
	}
}

func TestSubmitRunsContinuationOnTruncatedReply(t *testing.T) {
	f := newFixture(t, llm.NewMockClient(
		"Claro, puedo ayudarte...",
		"con los pasos concretos que necesitas para resolver esa situación complicada sin mayores problemas ni demoras.",
	))
	ctx := context.Background()

	if err := f.orch.Submit(ctx, "¿Me ayudas?"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ev := f.notifier.waitEnded(t)
	if ev.outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v (err=%v)", ev.outcome, ev.err)
	}

	calls := f.client.Calls()
	if len(calls) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(calls))
	}
	if !strings.HasPrefix(calls[1].Prompt, "Continúa: ") {
		t.Errorf("continuation prompt = %q", calls[1].Prompt)
	}
	if calls[1].MaxNewTokens != 150 {
		t.Errorf("continuation budget = %d, want 150", calls[1].MaxNewTokens)
	}

	history := f.orch.History()
	reply := history[len(history)-1].Text
	if !strings.HasPrefix(reply, "Claro, puedo ayudarte...") || !strings.Contains(reply, "pasos concretos") {
		t.Errorf("joined reply = %q", reply)
	}
}

func TestSubmitSingleContinuationOnly(t *testing.T) {
	// Both replies are truncated; only one continuation call is allowed.
	f := newFixture(t, llm.NewMockClient("Primera parte...", "segunda parte..."))
	ctx := context.Background()

	if err := f.orch.Submit(ctx, "Cuéntame algo"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ev := f.notifier.waitEnded(t)
	if ev.outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v (err=%v)", ev.outcome, ev.err)
	}
	if f.client.CallCount() != 2 {
		t.Errorf("provider calls = %d, want exactly 2", f.client.CallCount())
	}
}

func TestSubmitStripsHallucinatedUserTurn(t *testing.T) {
	f := newFixture(t, llm.NewMockClient(
		completeReply+"\nUsuario: ¿y esto otro?\nIA: también",
	))
	ctx := context.Background()

	if err := f.orch.Submit(ctx, "Hola"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ev := f.notifier.waitEnded(t)
	if ev.outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v (err=%v)", ev.outcome, ev.err)
	}

	history := f.orch.History()
	if got := history[len(history)-1].Text; got != completeReply {
		t.Errorf("filtered reply = %q, want %q", got, completeReply)
	}
}

func TestSubmitRejectsEmptyInput(t *testing.T) {
	f := newFixture(t, llm.NewMockClient())
	if err := f.orch.Submit(context.Background(), "   \n\t "); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
	if f.client.CallCount() != 0 {
		t.Error("no provider call expected")
	}
}

func TestSubmitRejectsWhileGenerating(t *testing.T) {
	client := llm.NewMockClient()
	release := make(chan struct{})
	client.GenerateFunc = func(ctx context.Context, _ string, _ int) (string, error) {
		select {
		case <-release:
			return completeReply, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f := newFixture(t, client)
	ctx := context.Background()

	if err := f.orch.Submit(ctx, "primero"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := f.orch.Submit(ctx, "segundo"); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}

	close(release)
	ev := f.notifier.waitEnded(t)
	if ev.outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v (err=%v)", ev.outcome, ev.err)
	}
}

func TestSubmitWithoutSession(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "charla.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()
	userID, err := st.CreateUser(ctx, "ana", "h")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	orch := New(Options{Store: st, Client: llm.NewMockClient(), UserID: userID})
	defer orch.Shutdown()

	if err := orch.Submit(ctx, "hola"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestCancelActiveDiscardsReply(t *testing.T) {
	client := llm.NewMockClient()
	started := make(chan struct{})
	client.GenerateFunc = func(ctx context.Context, _ string, _ int) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}
	f := newFixture(t, client)
	ctx := context.Background()

	if err := f.orch.Submit(ctx, "hola"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	f.orch.CancelActive()

	ev := f.notifier.waitEnded(t)
	if ev.outcome != OutcomeCancelled {
		t.Fatalf("outcome = %v, want cancelled", ev.outcome)
	}
	if got := f.orch.SessionState(f.sessionID); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}

	history := f.orch.History()
	if len(history) != 1 || history[0].Role != session.RoleUser {
		t.Errorf("history after cancel = %+v, want only the user turn", history)
	}

	// The session is usable again.
	f.client.GenerateFunc = func(context.Context, string, int) (string, error) {
		return completeReply, nil
	}
	if err := f.orch.Submit(ctx, "otra vez"); err != nil {
		t.Fatalf("Submit after cancel: %v", err)
	}
	ev = f.notifier.waitEnded(t)
	if ev.outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v (err=%v)", ev.outcome, ev.err)
	}
}

func TestSwitchSessionCancelsInFlightTask(t *testing.T) {
	client := llm.NewMockClient()
	started := make(chan struct{})
	client.GenerateFunc = func(ctx context.Context, _ string, _ int) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}
	f := newFixture(t, client)
	ctx := context.Background()

	second, err := f.store.CreateSession(ctx, 1, "segunda")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := f.orch.Submit(ctx, "hola"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	if err := f.orch.SwitchSession(ctx, second); err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}

	ev := f.notifier.waitEnded(t)
	if ev.outcome != OutcomeCancelled || ev.sessionID != f.sessionID {
		t.Fatalf("ended = %+v, want cancelled on session %d", ev, f.sessionID)
	}
	if got := f.orch.ActiveSession(); got != second {
		t.Errorf("active session = %d, want %d", got, second)
	}
	if history := f.orch.History(); len(history) != 0 {
		t.Errorf("new session history = %+v, want empty", history)
	}

	// No assistant turn leaked into the first session.
	stored, err := f.store.LoadMessages(ctx, f.sessionID)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(stored) != 1 || stored[0].Role != session.RoleUser {
		t.Errorf("first session stored = %+v, want only the user turn", stored)
	}
}

func TestSwitchBackReloadsHistoryFromCache(t *testing.T) {
	f := newFixture(t, llm.NewMockClient(completeReply))
	ctx := context.Background()

	if err := f.orch.Submit(ctx, "Hola"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.notifier.waitEnded(t)

	second, err := f.orch.CreateSession(ctx, "segunda")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if f.orch.ActiveSession() != second {
		t.Fatal("expected the new session to become active")
	}

	if err := f.orch.SwitchSession(ctx, f.sessionID); err != nil {
		t.Fatalf("SwitchSession back: %v", err)
	}
	history := f.orch.History()
	if len(history) != 2 {
		t.Fatalf("history = %+v, want the two original turns", history)
	}
}

func TestGenerationFailureKeepsUserTurn(t *testing.T) {
	client := llm.NewMockClient()
	client.QueueError(errors.New("provider exploded"))
	f := newFixture(t, client)
	ctx := context.Background()

	if err := f.orch.Submit(ctx, "hola"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ev := f.notifier.waitEnded(t)
	if ev.outcome != OutcomeFailed || ev.err == nil {
		t.Fatalf("ended = %+v, want failed with error", ev)
	}

	history := f.orch.History()
	if len(history) != 1 || history[0].Role != session.RoleUser {
		t.Errorf("history = %+v, want only the user turn", history)
	}
	if got := f.orch.SessionState(f.sessionID); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestContinuationFailureKeepsPartialReply(t *testing.T) {
	client := llm.NewMockClient("Respuesta corta...")
	client.QueueError(errors.New("quota exhausted"))
	f := newFixture(t, client)
	ctx := context.Background()

	if err := f.orch.Submit(ctx, "hola"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ev := f.notifier.waitEnded(t)
	if ev.outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v (err=%v)", ev.outcome, ev.err)
	}
	history := f.orch.History()
	if got := history[len(history)-1].Text; got != "Respuesta corta..." {
		t.Errorf("reply = %q, want the partial text", got)
	}
}

func TestDeleteSessionMidGeneration(t *testing.T) {
	client := llm.NewMockClient()
	started := make(chan struct{})
	client.GenerateFunc = func(ctx context.Context, _ string, _ int) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}
	f := newFixture(t, client)
	ctx := context.Background()

	if err := f.orch.Submit(ctx, "hola"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	if err := f.orch.DeleteSession(ctx, f.sessionID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	ev := f.notifier.waitEnded(t)
	if ev.outcome != OutcomeCancelled {
		t.Fatalf("outcome = %v, want cancelled", ev.outcome)
	}
	if got := f.orch.ActiveSession(); got != 0 {
		t.Errorf("active session = %d, want none", got)
	}
	if _, err := f.store.LoadMessages(ctx, f.sessionID); err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
}

func TestShutdownCancelsAndRejectsWork(t *testing.T) {
	client := llm.NewMockClient()
	started := make(chan struct{})
	client.GenerateFunc = func(ctx context.Context, _ string, _ int) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}
	f := newFixture(t, client)
	ctx := context.Background()

	if err := f.orch.Submit(ctx, "hola"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	f.orch.Shutdown()
	ev := f.notifier.waitEnded(t)
	if ev.outcome != OutcomeCancelled {
		t.Fatalf("outcome = %v, want cancelled", ev.outcome)
	}

	if err := f.orch.Submit(ctx, "tarde"); !errors.Is(err, ErrShutdown) {
		t.Errorf("Submit after shutdown = %v, want ErrShutdown", err)
	}
	if err := f.orch.SwitchSession(ctx, f.sessionID); !errors.Is(err, ErrShutdown) {
		t.Errorf("SwitchSession after shutdown = %v, want ErrShutdown", err)
	}
}

func TestDeleteAllSessionsClearsArena(t *testing.T) {
	f := newFixture(t, llm.NewMockClient(completeReply))
	ctx := context.Background()

	if err := f.orch.Submit(ctx, "Hola"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.notifier.waitEnded(t)

	if err := f.orch.DeleteAllSessions(ctx); err != nil {
		t.Fatalf("DeleteAllSessions: %v", err)
	}
	if got := f.orch.ActiveSession(); got != 0 {
		t.Errorf("active session = %d, want none", got)
	}
	infos, err := f.orch.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("sessions = %+v, want none", infos)
	}
}

func TestGeneratedPromptContainsHistory(t *testing.T) {
	f := newFixture(t, llm.NewMockClient(completeReply))
	ctx := context.Background()

	if err := f.orch.Submit(ctx, "Hola"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.notifier.waitEnded(t)

	calls := f.client.Calls()
	if len(calls) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(calls))
	}
	p := calls[0].Prompt
	if !strings.Contains(p, "Usuario: Hola") || !strings.HasSuffix(p, "IA: ") {
		t.Errorf("prompt = %q", p)
	}
	if calls[0].MaxNewTokens != 400 {
		t.Errorf("max tokens = %d, want 400", calls[0].MaxNewTokens)
	}
}

func TestAbandonedTaskResultIsDiscarded(t *testing.T) {
	client := llm.NewMockClient()
	started := make(chan struct{})
	release := make(chan struct{})
	var deaf bool
	client.GenerateFunc = func(ctx context.Context, _ string, _ int) (string, error) {
		if deaf {
			return completeReply, nil
		}
		// First task ignores cancellation entirely.
		deaf = true
		close(started)
		<-release
		return "respuesta obsoleta que nunca debe aparecer en el historial de esta sesión de ninguna manera", nil
	}
	f := newFixture(t, client)
	f.orch.cancelAckWait = 50 * time.Millisecond
	ctx := context.Background()

	if err := f.orch.Submit(ctx, "hola"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	// The deaf task forces the cancel-ack timeout; the switch proceeds and
	// the task is abandoned.
	second, err := f.orch.CreateSession(ctx, "segunda")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	ev := f.notifier.waitEnded(t)
	if ev.outcome != OutcomeCancelled {
		t.Fatalf("outcome = %v, want cancelled after abandonment", ev.outcome)
	}
	_ = second

	// Back on the first session a new task runs while the stale one is
	// still outstanding.
	if err := f.orch.SwitchSession(ctx, f.sessionID); err != nil {
		t.Fatalf("SwitchSession back: %v", err)
	}
	if err := f.orch.Submit(ctx, "otra pregunta"); err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	ev = f.notifier.waitEnded(t)
	if ev.outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v (err=%v)", ev.outcome, ev.err)
	}

	// Now let the stale task finish; its text must not land anywhere.
	close(release)
	time.Sleep(100 * time.Millisecond)

	stored, err := f.store.LoadMessages(ctx, f.sessionID)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	for _, msg := range stored {
		if strings.Contains(msg.Text, "obsoleta") {
			t.Fatalf("stale reply leaked into history: %+v", stored)
		}
	}
	if len(stored) != 3 {
		t.Errorf("stored turns = %d, want 3 (two user, one assistant)", len(stored))
	}
}

func TestCancelAckTimeoutEmitsEndedOnce(t *testing.T) {
	client := llm.NewMockClient()
	client.GenerateFunc = func(ctx context.Context, _ string, _ int) (string, error) {
		<-ctx.Done()
		// Acknowledge right around the ack deadline so the abandon timer
		// and the task's own completion race each other.
		time.Sleep(5 * time.Millisecond)
		return "", ctx.Err()
	}
	f := newFixture(t, client)
	f.orch.cancelAckWait = 5 * time.Millisecond
	ctx := context.Background()

	second, err := f.orch.CreateSession(ctx, "segunda")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Switching away runs the bounded cancel wait; alternate sessions so
	// every iteration has an in-flight task to cancel.
	targets := []int64{f.sessionID, second}
	for i := 0; i < 10; i++ {
		if err := f.orch.Submit(ctx, "hola"); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		if err := f.orch.SwitchSession(ctx, targets[i%2]); err != nil {
			t.Fatalf("SwitchSession %d: %v", i, err)
		}

		ev := f.notifier.waitEnded(t)
		if ev.outcome != OutcomeCancelled {
			t.Fatalf("outcome = %v, want cancelled", ev.outcome)
		}
		// Whichever side loses the race must stay silent.
		select {
		case extra := <-f.notifier.ended:
			t.Fatalf("second GenerationEnded for one task: %+v", extra)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestUserDeletedMidGenerationDoesNotAppend(t *testing.T) {
	client := llm.NewMockClient()
	started := make(chan struct{})
	release := make(chan struct{})
	client.GenerateFunc = func(ctx context.Context, _ string, _ int) (string, error) {
		close(started)
		<-release
		return completeReply, nil
	}
	f := newFixture(t, client)
	ctx := context.Background()

	if err := f.orch.Submit(ctx, "hola"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	// Account removal cascades to the session while the task is running.
	if err := f.store.DeleteUser(ctx, 1); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	close(release)

	ev := f.notifier.waitEnded(t)
	if ev.outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed (session row is gone)", ev.outcome)
	}
	if ev.err == nil {
		t.Error("expected a store error in the outcome")
	}
}
