// Package orchestrator coordinates conversation sessions: it owns the
// in-memory history for each session, runs generation tasks in the
// background, and guarantees that switching sessions or shutting down never
// leaves a stale result to land in the wrong conversation.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/charla-ai/charla/internal/consts"
	"github.com/charla-ai/charla/internal/llm"
	"github.com/charla-ai/charla/internal/logger"
	"github.com/charla-ai/charla/internal/prompt"
	"github.com/charla-ai/charla/internal/session"
	"github.com/charla-ai/charla/internal/store"
)

var (
	// ErrEmptyInput rejects submissions that are empty after trimming.
	ErrEmptyInput = errors.New("empty input")
	// ErrBusy rejects submissions while a generation is in flight.
	ErrBusy = errors.New("generation already in progress")
	// ErrNoSession means no session is active.
	ErrNoSession = errors.New("no active session")
	// ErrShutdown means the orchestrator has been shut down.
	ErrShutdown = errors.New("orchestrator is shut down")
)

// State describes what a session is currently doing.
type State int

const (
	// StateIdle means the session accepts new submissions.
	StateIdle State = iota
	// StateGenerating means a background task is producing a reply.
	StateGenerating
	// StateCancelling means a cancel was issued and the task has not yet
	// acknowledged it.
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateGenerating:
		return "generating"
	case StateCancelling:
		return "cancelling"
	default:
		return "idle"
	}
}

// Outcome classifies how a generation task ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Notifier receives orchestrator events. Calls are made outside the
// orchestrator's lock, so implementations may call back into it.
type Notifier interface {
	// MessageAppended fires after a message is durably stored and added to
	// the session's in-memory history.
	MessageAppended(sessionID int64, msg session.Message)
	// GenerationStarted fires when a background task begins.
	GenerationStarted(sessionID int64)
	// GenerationEnded fires exactly once per task that was not superseded.
	// err is non-nil only for OutcomeFailed.
	GenerationEnded(sessionID int64, outcome Outcome, err error)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) MessageAppended(int64, session.Message) {}
func (NopNotifier) GenerationStarted(int64)                {}
func (NopNotifier) GenerationEnded(int64, Outcome, error)  {}

// sessionState is one slot in the session arena. seq increments on every
// submitted task; taskSeq holds the sequence of the in-flight task and is
// zeroed when the task is abandoned, which makes any late result stale.
type sessionState struct {
	history []session.Message
	state   State
	seq     uint64
	taskSeq uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

// Orchestrator multiplexes generation across sessions. One session is active
// at a time; inactive sessions keep their cached history until evicted by
// deletion or shutdown.
type Orchestrator struct {
	mu       sync.Mutex
	store    store.Store
	client   llm.Client
	builder  *prompt.Builder
	notifier Notifier
	log      *logger.Logger

	maxNewTokens  int
	userID        int64
	cancelAckWait time.Duration

	sessions map[int64]*sessionState
	activeID int64 // 0 means none
	closed   bool
}

// Options configures a new Orchestrator.
type Options struct {
	Store        store.Store
	Client       llm.Client
	Builder      *prompt.Builder
	Notifier     Notifier
	UserID       int64
	MaxNewTokens int
}

// New creates an Orchestrator for one authenticated user.
func New(opts Options) *Orchestrator {
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.MaxNewTokens <= 0 {
		opts.MaxNewTokens = consts.DefaultMaxNewTokens
	}
	if opts.Builder == nil {
		opts.Builder = prompt.NewBuilder("", 0)
	}
	return &Orchestrator{
		store:         opts.Store,
		client:        opts.Client,
		builder:       opts.Builder,
		notifier:      opts.Notifier,
		log:           logger.WithPrefix("orchestrator"),
		maxNewTokens:  opts.MaxNewTokens,
		userID:        opts.UserID,
		cancelAckWait: consts.CancelAckTimeout,
		sessions:      make(map[int64]*sessionState),
	}
}

// ActiveSession returns the id of the active session, or 0.
func (o *Orchestrator) ActiveSession() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeID
}

// SessionState reports the state of the given session.
func (o *Orchestrator) SessionState(sessionID int64) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.sessions[sessionID]; ok {
		return st.state
	}
	return StateIdle
}

// History returns a copy of the active session's in-memory history.
func (o *Orchestrator) History() []session.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.sessions[o.activeID]
	if !ok {
		return nil
	}
	out := make([]session.Message, len(st.history))
	copy(out, st.history)
	return out
}

// SwitchSession makes sessionID the active session. Any generation in flight
// on the previously active session is cancelled first; the switch blocks
// until the task acknowledges the cancel or the ack timeout elapses, at
// which point the task is abandoned and its eventual result discarded. The
// new session's history is loaded from the store on first visit.
func (o *Orchestrator) SwitchSession(ctx context.Context, sessionID int64) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrShutdown
	}
	if o.activeID == sessionID {
		o.mu.Unlock()
		return nil
	}
	prevID := o.activeID
	prev := o.sessions[prevID]
	o.mu.Unlock()

	if prev != nil {
		o.cancelAndWait(prevID, prev)
	}

	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		o.sessions[sessionID] = st
	}
	o.activeID = sessionID
	needLoad := !ok
	o.mu.Unlock()

	if needLoad {
		loadCtx, cancel := context.WithTimeout(ctx, consts.StoreTimeout)
		defer cancel()
		history, err := o.store.LoadMessages(loadCtx, sessionID)
		if err != nil {
			o.mu.Lock()
			delete(o.sessions, sessionID)
			o.activeID = 0
			o.mu.Unlock()
			return err
		}
		o.mu.Lock()
		st.history = history
		o.mu.Unlock()
	}
	o.log.Debug("switched to session %d", sessionID)
	return nil
}

// Submit appends the user's message to the active session and starts a
// background generation task for the reply. The message is written to the
// store before it enters the in-memory history.
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrShutdown
	}
	sessionID := o.activeID
	st, ok := o.sessions[sessionID]
	if sessionID == 0 || !ok {
		o.mu.Unlock()
		return ErrNoSession
	}
	if st.state != StateIdle {
		o.mu.Unlock()
		return ErrBusy
	}
	o.mu.Unlock()

	userMsg := session.Message{Role: session.RoleUser, Text: text, CreatedAt: time.Now()}
	storeCtx, cancelStore := context.WithTimeout(ctx, consts.StoreTimeout)
	err := o.store.AppendMessage(storeCtx, sessionID, userMsg)
	cancelStore()
	if err != nil {
		return err
	}

	o.mu.Lock()
	// The store write is durable at this point, so the cache gets the
	// message even if the task below never starts.
	st.history = append(st.history, userMsg)
	// Re-check: a switch or shutdown may have raced the store write.
	if o.closed || o.activeID != sessionID || st.state != StateIdle {
		o.mu.Unlock()
		return ErrBusy
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	st.seq++
	st.taskSeq = st.seq
	st.state = StateGenerating
	st.cancel = cancel
	st.done = make(chan struct{})

	seq := st.seq
	promptText := o.builder.Build(st.history)
	o.mu.Unlock()

	o.notifier.MessageAppended(sessionID, userMsg)
	o.notifier.GenerationStarted(sessionID)
	o.log.Debug("session %d: task %d started", sessionID, seq)

	go o.runTask(taskCtx, sessionID, seq, promptText)
	return nil
}

// CancelActive requests cancellation of the active session's task, if any.
// It does not wait for the acknowledgement; the task reports
// OutcomeCancelled when it honours the cancel.
func (o *Orchestrator) CancelActive() {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.sessions[o.activeID]
	if !ok || st.state != StateGenerating {
		return
	}
	st.state = StateCancelling
	st.cancel()
	o.log.Debug("session %d: cancel requested", o.activeID)
}

// Shutdown cancels every in-flight task and waits, bounded per task, for
// acknowledgement. The orchestrator accepts no work afterwards. The store is
// not closed; its owner does that.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	pending := make(map[int64]*sessionState)
	for id, st := range o.sessions {
		if st.state == StateGenerating || st.state == StateCancelling {
			pending[id] = st
		}
	}
	o.mu.Unlock()

	for id, st := range pending {
		o.cancelAndWait(id, st)
	}
	o.log.Info("shut down, %d task(s) cancelled", len(pending))
}

// cancelAndWait cancels st's task if one is running and blocks until it
// acknowledges or the ack timeout expires. On timeout the task is abandoned:
// its sequence is invalidated so a late result cannot touch the history.
func (o *Orchestrator) cancelAndWait(sessionID int64, st *sessionState) {
	o.mu.Lock()
	if st.state == StateIdle {
		o.mu.Unlock()
		return
	}
	if st.state == StateGenerating {
		st.state = StateCancelling
		st.cancel()
	}
	done := st.done
	o.mu.Unlock()

	select {
	case <-done:
	case <-time.After(o.cancelAckWait):
		o.mu.Lock()
		if st.done != done {
			// The task acknowledged just as the timer fired; finishTask
			// already settled this task and emitted its ending event.
			o.mu.Unlock()
			return
		}
		st.taskSeq = 0
		st.state = StateIdle
		st.cancel = nil
		st.done = nil
		o.mu.Unlock()
		o.log.Warn("session %d: task did not acknowledge cancel within %s, abandoned",
			sessionID, o.cancelAckWait)
		o.notifier.GenerationEnded(sessionID, OutcomeCancelled, nil)
	}
}

// runTask produces the assistant reply for one submission. Cancellation is
// checked before the first provider call, before the continuation call, and
// implicitly inside each call through the context.
func (o *Orchestrator) runTask(ctx context.Context, sessionID int64, seq uint64, promptText string) {
	text, err := o.generate(ctx, promptText)
	o.finishTask(sessionID, seq, text, err)
}

// generate performs the provider call, plus at most one continuation call
// when the first reply looks truncated.
func (o *Orchestrator) generate(ctx context.Context, promptText string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	raw, err := o.client.Generate(ctx, promptText, o.maxNewTokens)
	if err != nil {
		return "", err
	}
	text := prompt.PostFilter(raw)

	if prompt.IsIncomplete(text) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		more, err := o.client.Generate(ctx, prompt.ContinuationPrompt(text), consts.ContinuationMaxTokens)
		if err != nil {
			// Keep the partial reply rather than dropping it.
			o.log.Warn("continuation call failed: %v", err)
			return text, nil
		}
		more = prompt.PostFilter(more)
		if more != "" {
			text = strings.TrimSpace(text + " " + more)
		}
	}
	return text, nil
}

// finishTask integrates a task result. A result whose sequence no longer
// matches the session's in-flight task is discarded without side effects.
func (o *Orchestrator) finishTask(sessionID int64, seq uint64, text string, genErr error) {
	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	if !ok || st.taskSeq != seq {
		o.mu.Unlock()
		o.log.Debug("session %d: task %d result discarded (superseded)", sessionID, seq)
		return
	}

	cancelled := st.state == StateCancelling ||
		errors.Is(genErr, context.Canceled) || errors.Is(genErr, context.DeadlineExceeded)
	st.state = StateIdle
	st.taskSeq = 0
	st.cancel = nil
	done := st.done
	st.done = nil
	o.mu.Unlock()
	defer close(done)

	switch {
	case cancelled:
		o.log.Debug("session %d: task %d cancelled", sessionID, seq)
		o.notifier.GenerationEnded(sessionID, OutcomeCancelled, nil)
		return
	case genErr != nil:
		o.log.Error("session %d: task %d failed: %v", sessionID, seq, genErr)
		o.notifier.GenerationEnded(sessionID, OutcomeFailed, genErr)
		return
	}

	reply := session.Message{Role: session.RoleAssistant, Text: text, CreatedAt: time.Now()}
	storeCtx, cancelStore := context.WithTimeout(context.Background(), consts.StoreTimeout)
	err := o.store.AppendMessage(storeCtx, sessionID, reply)
	cancelStore()
	if err != nil {
		// The session may have been deleted while the task ran.
		o.log.Error("session %d: storing reply failed: %v", sessionID, err)
		o.notifier.GenerationEnded(sessionID, OutcomeFailed, err)
		return
	}

	o.mu.Lock()
	st.history = append(st.history, reply)
	o.mu.Unlock()

	o.notifier.MessageAppended(sessionID, reply)
	o.notifier.GenerationEnded(sessionID, OutcomeCompleted, nil)
	o.log.Debug("session %d: task %d completed (%d chars)", sessionID, seq, len(text))
}
