package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/charla-ai/charla/internal/orchestrator"
	"github.com/charla-ai/charla/internal/session"
)

// Messages delivered into the Bubble Tea program by the orchestrator.
type (
	messageAppendedMsg struct {
		sessionID int64
		msg       session.Message
	}
	generationStartedMsg struct {
		sessionID int64
	}
	generationEndedMsg struct {
		sessionID int64
		outcome   orchestrator.Outcome
		err       error
	}
)

// sender is the part of tea.Program the notifier needs.
type sender interface {
	Send(tea.Msg)
}

// ProgramNotifier forwards orchestrator events into a running Bubble Tea
// program. Attach the program before the orchestrator starts work; events
// arriving earlier are dropped.
type ProgramNotifier struct {
	program sender
}

var _ orchestrator.Notifier = (*ProgramNotifier)(nil)

func NewProgramNotifier() *ProgramNotifier {
	return &ProgramNotifier{}
}

// Attach binds the notifier to the running program.
func (n *ProgramNotifier) Attach(p sender) {
	n.program = p
}

func (n *ProgramNotifier) MessageAppended(sessionID int64, msg session.Message) {
	n.send(messageAppendedMsg{sessionID: sessionID, msg: msg})
}

func (n *ProgramNotifier) GenerationStarted(sessionID int64) {
	n.send(generationStartedMsg{sessionID: sessionID})
}

func (n *ProgramNotifier) GenerationEnded(sessionID int64, outcome orchestrator.Outcome, err error) {
	n.send(generationEndedMsg{sessionID: sessionID, outcome: outcome, err: err})
}

func (n *ProgramNotifier) send(msg tea.Msg) {
	if n.program != nil {
		n.program.Send(msg)
	}
}
