// Package tui implements the terminal chat interface: a scrollable
// transcript, a composer, and a session menu, driven by orchestrator events.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/charla-ai/charla/internal/logger"
	"github.com/charla-ai/charla/internal/orchestrator"
	"github.com/charla-ai/charla/internal/session"
)

// Conversation is the slice of the orchestrator the chat screen drives.
type Conversation interface {
	Submit(ctx context.Context, text string) error
	CancelActive()
	SwitchSession(ctx context.Context, sessionID int64) error
	CreateSession(ctx context.Context, name string) (int64, error)
	ListSessions(ctx context.Context) ([]session.Info, error)
	RenameSession(ctx context.Context, sessionID int64, name string) error
	DeleteSession(ctx context.Context, sessionID int64) error
	DeleteAllSessions(ctx context.Context) error
	History() []session.Message
	ActiveSession() int64
}

// AccountActions is invoked from the session menu for account-level
// operations.
type AccountActions interface {
	DeleteAccount(ctx context.Context) error
}

// defaultSessionName marks sessions that have not been titled yet.
const defaultSessionName = "Sesión de Chat"

// titleSuggestedMsg carries the result of an asynchronous title suggestion.
type titleSuggestedMsg struct {
	sessionID int64
	title     string
}

// ChatModel is the root Bubble Tea model.
type ChatModel struct {
	conv     Conversation
	account  AccountActions
	username string
	titler   *session.TitleSuggester
	log      *logger.Logger

	viewport  viewport.Model
	composer  textarea.Model
	spinner   spinner.Model
	menu      *sessionMenu
	renderers map[int]*glamour.TermRenderer

	width       int
	height      int
	ready       bool
	generating  bool
	sessionName string
	errText     string
	quitting    bool
}

// NewChatModel creates the chat screen for an authenticated user.
func NewChatModel(conv Conversation, account AccountActions, username, sessionName string) *ChatModel {
	ta := textarea.New()
	ta.Placeholder = "Escribe tu mensaje..."
	ta.Prompt = "> "
	ta.CharLimit = 4000
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &ChatModel{
		conv:        conv,
		account:     account,
		username:    username,
		sessionName: sessionName,
		log:         logger.WithPrefix("tui"),
		composer:    ta,
		spinner:     sp,
		renderers:   make(map[int]*glamour.TermRenderer),
	}
}

// SetTitleSuggester enables automatic naming of fresh sessions after their
// first completed exchange.
func (m *ChatModel) SetTitleSuggester(ts *session.TitleSuggester) {
	m.titler = ts
}

func (m *ChatModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// The session menu owns the screen while open.
	if m.menu != nil {
		return m.updateMenu(msg)
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refreshTranscript()
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(msg)

	case messageAppendedMsg:
		if msg.sessionID == m.conv.ActiveSession() {
			m.refreshTranscript()
			m.viewport.GotoBottom()
		}
		return m, nil

	case generationStartedMsg:
		m.generating = true
		m.errText = ""
		return m, m.spinner.Tick

	case generationEndedMsg:
		m.generating = false
		if msg.outcome == orchestrator.OutcomeFailed && msg.err != nil {
			m.errText = fmt.Sprintf("Error al generar respuesta: %v", msg.err)
		}
		if msg.outcome == orchestrator.OutcomeCompleted {
			return m, m.maybeSuggestTitle(msg.sessionID)
		}
		return m, nil

	case titleSuggestedMsg:
		if msg.sessionID == m.conv.ActiveSession() && msg.title != "" {
			m.sessionName = msg.title
		}
		return m, nil

	case spinner.TickMsg:
		if !m.generating {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *ChatModel) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "esc":
		if m.generating {
			m.conv.CancelActive()
			return m, nil
		}
		return m, nil

	case "ctrl+s":
		menu, err := newSessionMenu(m.conv, m.account, m.width, m.height)
		if err != nil {
			m.errText = fmt.Sprintf("No se pudieron cargar las sesiones: %v", err)
			return m, nil
		}
		m.menu = menu
		return m, nil

	case "enter":
		return m, m.submit()

	case "pgup":
		m.viewport.HalfViewUp()
		return m, nil

	case "pgdown":
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

func (m *ChatModel) submit() tea.Cmd {
	text := strings.TrimSpace(m.composer.Value())
	if text == "" {
		return nil
	}

	err := m.conv.Submit(context.Background(), text)
	switch {
	case errors.Is(err, orchestrator.ErrBusy):
		m.errText = "Espera a que termine la respuesta actual (Esc para cancelar)."
		return nil
	case err != nil:
		m.errText = fmt.Sprintf("No se pudo enviar el mensaje: %v", err)
		m.log.Error("submit failed: %v", err)
		return nil
	}

	m.composer.Reset()
	m.errText = ""
	return nil
}

// maybeSuggestTitle names an untitled session from its opening message once
// the first reply has landed. Runs off the UI loop; the rename is applied
// when titleSuggestedMsg comes back.
func (m *ChatModel) maybeSuggestTitle(sessionID int64) tea.Cmd {
	if m.titler == nil || m.sessionName != defaultSessionName || sessionID != m.conv.ActiveSession() {
		return nil
	}
	history := m.conv.History()
	var opening string
	for _, msg := range history {
		if msg.Role == session.RoleUser {
			opening = msg.Text
			break
		}
	}
	if opening == "" {
		return nil
	}

	return func() tea.Msg {
		ctx := context.Background()
		title := m.titler.Suggest(ctx, opening)
		if err := m.conv.RenameSession(ctx, sessionID, title); err != nil {
			m.log.Warn("failed to rename session %d: %v", sessionID, err)
			return titleSuggestedMsg{sessionID: sessionID}
		}
		return titleSuggestedMsg{sessionID: sessionID, title: title}
	}
}

func (m *ChatModel) updateMenu(msg tea.Msg) (tea.Model, tea.Cmd) {
	action, cmd := m.menu.Update(msg)
	switch action.kind {
	case menuActionNone:
		return m, cmd

	case menuActionClose:
		m.menu = nil
		m.composer.Focus()
		return m, textarea.Blink

	case menuActionOpenSession:
		m.menu = nil
		if err := m.conv.SwitchSession(context.Background(), action.sessionID); err != nil {
			m.errText = fmt.Sprintf("No se pudo abrir la sesión: %v", err)
		} else {
			m.sessionName = action.sessionName
			m.errText = ""
			m.refreshTranscript()
			m.viewport.GotoBottom()
		}
		m.composer.Focus()
		return m, textarea.Blink

	case menuActionNewSession:
		m.menu = nil
		if _, err := m.conv.CreateSession(context.Background(), action.sessionName); err != nil {
			m.errText = fmt.Sprintf("No se pudo crear la sesión: %v", err)
		} else {
			m.sessionName = action.sessionName
			m.errText = ""
			m.refreshTranscript()
		}
		m.composer.Focus()
		return m, textarea.Blink

	case menuActionQuit:
		m.quitting = true
		return m, tea.Quit
	}
	return m, cmd
}

func (m *ChatModel) resize(width, height int) {
	m.width = width
	m.height = height

	m.composer.SetWidth(width - 4)

	viewportHeight := height - m.composer.Height() - 6
	if viewportHeight < 3 {
		viewportHeight = 3
	}
	if !m.ready {
		m.viewport = viewport.New(width, viewportHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = viewportHeight
	}
}

// refreshTranscript re-renders the whole history into the viewport.
func (m *ChatModel) refreshTranscript() {
	if !m.ready {
		return
	}

	wrapWidth := m.width - 4
	if wrapWidth < 20 {
		wrapWidth = 20
	}

	var sb strings.Builder
	for i, msg := range m.conv.History() {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderMessage(msg, wrapWidth))
		sb.WriteString("\n")
	}
	m.viewport.SetContent(sb.String())
}

func (m *ChatModel) renderMessage(msg session.Message, wrapWidth int) string {
	var header string
	if msg.Role == session.RoleAssistant {
		header = assistantRoleStyle.Render("IA")
	} else {
		header = userRoleStyle.Render(m.username)
	}
	if !msg.CreatedAt.IsZero() {
		header += " " + timestampStyle.Render(msg.CreatedAt.Format("15:04"))
	}

	body := msg.Text
	if msg.Role == session.RoleAssistant {
		if rendered, err := m.renderMarkdown(body, wrapWidth); err == nil {
			body = strings.TrimRight(rendered, "\n")
		}
	} else {
		body = wordwrap.String(body, wrapWidth)
	}

	return header + "\n" + body
}

// renderMarkdown renders assistant replies through glamour, caching one
// renderer per wrap width.
func (m *ChatModel) renderMarkdown(text string, wrapWidth int) (string, error) {
	renderer, ok := m.renderers[wrapWidth]
	if !ok {
		var err error
		renderer, err = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(wrapWidth),
			glamour.WithPreservedNewLines(),
		)
		if err != nil {
			return "", err
		}
		m.renderers[wrapWidth] = renderer
	}
	return renderer.Render(text)
}

func (m *ChatModel) View() string {
	if m.quitting {
		return "¡Hasta pronto!\n"
	}
	if m.menu != nil {
		return m.menu.View()
	}
	if !m.ready {
		return "Cargando..."
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("charla"))
	sb.WriteString("  ")
	sb.WriteString(statusStyle.Render(m.sessionName))
	sb.WriteString("\n\n")
	sb.WriteString(m.viewport.View())
	sb.WriteString("\n")

	switch {
	case m.generating:
		sb.WriteString(m.spinner.View())
		sb.WriteString(statusStyle.Render(" La IA está escribiendo..."))
	case m.errText != "":
		sb.WriteString(errorStyle.Render(m.errText))
	default:
		sb.WriteString(" ")
	}
	sb.WriteString("\n")

	sb.WriteString(inputBorderStyle.Width(m.width - 2).Render(m.composer.View()))
	sb.WriteString("\n")
	sb.WriteString(helpStyle.Render("Enter: enviar • Esc: cancelar respuesta • Ctrl+S: sesiones • Ctrl+C: salir"))
	return sb.String()
}
