package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/charla-ai/charla/internal/session"
)

type menuActionKind int

const (
	menuActionNone menuActionKind = iota
	menuActionClose
	menuActionOpenSession
	menuActionNewSession
	menuActionQuit
)

// menuAction tells the chat model what the menu decided.
type menuAction struct {
	kind        menuActionKind
	sessionID   int64
	sessionName string
}

type menuMode int

const (
	menuModeList menuMode = iota
	menuModeNewName
	menuModeRename
	menuModeConfirmDelete
	menuModeConfirmDeleteAll
	menuModeConfirmDeleteAccount
)

// sessionMenu lists the user's sessions and hosts the destructive account
// operations behind y/n confirmations.
type sessionMenu struct {
	conv    Conversation
	account AccountActions

	sessions []session.Info
	cursor   int
	mode     menuMode
	input    textinput.Model
	errText  string
	width    int
	height   int
}

func newSessionMenu(conv Conversation, account AccountActions, width, height int) (*sessionMenu, error) {
	sessions, err := conv.ListSessions(context.Background())
	if err != nil {
		return nil, err
	}

	ti := textinput.New()
	ti.CharLimit = 80
	ti.Width = 40

	return &sessionMenu{
		conv:     conv,
		account:  account,
		sessions: sessions,
		input:    ti,
		width:    width,
		height:   height,
	}, nil
}

func (sm *sessionMenu) reload() {
	sessions, err := sm.conv.ListSessions(context.Background())
	if err != nil {
		sm.errText = fmt.Sprintf("Error al cargar sesiones: %v", err)
		return
	}
	sm.sessions = sessions
	if sm.cursor >= len(sm.sessions) {
		sm.cursor = len(sm.sessions) - 1
	}
	if sm.cursor < 0 {
		sm.cursor = 0
	}
}

func (sm *sessionMenu) selected() (session.Info, bool) {
	if sm.cursor < 0 || sm.cursor >= len(sm.sessions) {
		return session.Info{}, false
	}
	return sm.sessions[sm.cursor], true
}

func (sm *sessionMenu) Update(msg tea.Msg) (menuAction, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		if sm.mode == menuModeNewName || sm.mode == menuModeRename {
			var cmd tea.Cmd
			sm.input, cmd = sm.input.Update(msg)
			return menuAction{}, cmd
		}
		return menuAction{}, nil
	}

	switch sm.mode {
	case menuModeNewName, menuModeRename:
		return sm.updateNameInput(keyMsg)
	case menuModeConfirmDelete:
		return sm.updateConfirmDelete(keyMsg)
	case menuModeConfirmDeleteAll:
		return sm.updateConfirmDeleteAll(keyMsg)
	case menuModeConfirmDeleteAccount:
		return sm.updateConfirmDeleteAccount(keyMsg)
	default:
		return sm.updateList(keyMsg)
	}
}

func (sm *sessionMenu) updateList(msg tea.KeyMsg) (menuAction, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+s":
		return menuAction{kind: menuActionClose}, nil

	case "ctrl+c":
		return menuAction{kind: menuActionQuit}, nil

	case "up", "k":
		if sm.cursor > 0 {
			sm.cursor--
		}

	case "down", "j":
		if sm.cursor < len(sm.sessions)-1 {
			sm.cursor++
		}

	case "enter":
		if info, ok := sm.selected(); ok {
			return menuAction{kind: menuActionOpenSession, sessionID: info.ID, sessionName: info.Name}, nil
		}

	case "n":
		sm.mode = menuModeNewName
		sm.input.SetValue("")
		sm.input.Placeholder = "Nombre de la nueva sesión"
		sm.input.Focus()
		return menuAction{}, textinput.Blink

	case "r":
		if info, ok := sm.selected(); ok {
			sm.mode = menuModeRename
			sm.input.SetValue(info.Name)
			sm.input.Placeholder = "Nuevo nombre"
			sm.input.Focus()
			return menuAction{}, textinput.Blink
		}

	case "d":
		if _, ok := sm.selected(); ok {
			sm.mode = menuModeConfirmDelete
		}

	case "D":
		if len(sm.sessions) > 0 {
			sm.mode = menuModeConfirmDeleteAll
		}

	case "X":
		sm.mode = menuModeConfirmDeleteAccount
	}
	return menuAction{}, nil
}

func (sm *sessionMenu) updateNameInput(msg tea.KeyMsg) (menuAction, tea.Cmd) {
	switch msg.String() {
	case "esc":
		sm.mode = menuModeList
		return menuAction{}, nil

	case "enter":
		name := strings.TrimSpace(sm.input.Value())
		if sm.mode == menuModeNewName {
			sm.mode = menuModeList
			if name == "" {
				name = defaultSessionName
			}
			return menuAction{kind: menuActionNewSession, sessionName: name}, nil
		}
		// Rename.
		sm.mode = menuModeList
		if info, ok := sm.selected(); ok && name != "" {
			if err := sm.conv.RenameSession(context.Background(), info.ID, name); err != nil {
				sm.errText = fmt.Sprintf("No se pudo renombrar: %v", err)
			} else {
				sm.reload()
			}
		}
		return menuAction{}, nil
	}

	var cmd tea.Cmd
	sm.input, cmd = sm.input.Update(msg)
	return menuAction{}, cmd
}

func (sm *sessionMenu) updateConfirmDelete(msg tea.KeyMsg) (menuAction, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		sm.mode = menuModeList
		if info, ok := sm.selected(); ok {
			if err := sm.conv.DeleteSession(context.Background(), info.ID); err != nil {
				sm.errText = fmt.Sprintf("No se pudo borrar: %v", err)
			} else {
				sm.reload()
			}
		}
	case "n", "N", "esc":
		sm.mode = menuModeList
	}
	return menuAction{}, nil
}

func (sm *sessionMenu) updateConfirmDeleteAll(msg tea.KeyMsg) (menuAction, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		sm.mode = menuModeList
		if err := sm.conv.DeleteAllSessions(context.Background()); err != nil {
			sm.errText = fmt.Sprintf("No se pudieron borrar las sesiones: %v", err)
		} else {
			sm.reload()
		}
	case "n", "N", "esc":
		sm.mode = menuModeList
	}
	return menuAction{}, nil
}

func (sm *sessionMenu) updateConfirmDeleteAccount(msg tea.KeyMsg) (menuAction, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		if sm.account != nil {
			if err := sm.account.DeleteAccount(context.Background()); err != nil {
				sm.mode = menuModeList
				sm.errText = fmt.Sprintf("No se pudo eliminar la cuenta: %v", err)
				return menuAction{}, nil
			}
		}
		return menuAction{kind: menuActionQuit}, nil
	case "n", "N", "esc":
		sm.mode = menuModeList
	}
	return menuAction{}, nil
}

func (sm *sessionMenu) View() string {
	switch sm.mode {
	case menuModeNewName:
		return sm.viewInput("Nueva sesión")
	case menuModeRename:
		return sm.viewInput("Renombrar sesión")
	case menuModeConfirmDelete:
		info, _ := sm.selected()
		return confirmBoxStyle.Render(fmt.Sprintf(
			"¿Borrar la sesión %q y todos sus mensajes?\n\nEsta acción no se puede deshacer.\n\n[y] Sí, borrar  [n] No, cancelar",
			info.Name))
	case menuModeConfirmDeleteAll:
		return confirmBoxStyle.Render(
			"¿Borrar TODAS tus sesiones y mensajes?\n\nEsta acción no se puede deshacer.\n\n[y] Sí, borrar todo  [n] No, cancelar")
	case menuModeConfirmDeleteAccount:
		return confirmBoxStyle.Render(
			"¿Eliminar tu cuenta, con todas tus sesiones y mensajes?\n\nEsta acción no se puede deshacer.\n\n[y] Sí, eliminar  [n] No, cancelar")
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Sesiones"))
	sb.WriteString("\n\n")

	if len(sm.sessions) == 0 {
		sb.WriteString(statusStyle.Render("No hay sesiones guardadas. Pulsa n para crear una."))
		sb.WriteString("\n")
	}
	active := sm.conv.ActiveSession()
	for i, info := range sm.sessions {
		cursor := "  "
		if i == sm.cursor {
			cursor = menuCursorStyle.Render("> ")
		}
		line := fmt.Sprintf("%s%s", cursor, info.Name)
		if info.ID == active {
			line += statusStyle.Render("  (actual)")
		}
		line += timestampStyle.Render("  " + info.CreatedAt.Format("2006-01-02 15:04"))
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	if sm.errText != "" {
		sb.WriteString(errorStyle.Render(sm.errText))
		sb.WriteString("\n")
	}
	sb.WriteString(helpStyle.Render(
		"↑/↓: navegar • Enter: abrir • n: nueva • r: renombrar • d: borrar • D: borrar todas • X: eliminar cuenta • Esc: volver"))
	return sb.String()
}

func (sm *sessionMenu) viewInput(title string) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString("\n\n")
	sb.WriteString(sm.input.View())
	sb.WriteString("\n\n")
	sb.WriteString(helpStyle.Render("Enter: confirmar • Esc: cancelar"))
	return sb.String()
}
