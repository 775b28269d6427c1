package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/charla-ai/charla/internal/auth"
	"github.com/charla-ai/charla/internal/config"
	"github.com/charla-ai/charla/internal/logger"
	"github.com/charla-ai/charla/internal/orchestrator"
	"github.com/charla-ai/charla/internal/prompt"
	"github.com/charla-ai/charla/internal/provider"
	"github.com/charla-ai/charla/internal/securemem"
	"github.com/charla-ai/charla/internal/session"
	"github.com/charla-ai/charla/internal/store"
	"github.com/charla-ai/charla/internal/tui"
)

const maxPasswordAttempts = 3

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	providerFlag := flag.String("provider", "", "generation provider (huggingface, openai, anthropic, google)")
	modelFlag := flag.String("model", "", "provider-specific model id")
	registerFlag := flag.Bool("register", false, "create a new account before logging in")
	logLevelFlag := flag.String("log-level", "", "log level (debug, info, warn, error, none)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *providerFlag != "" {
		cfg.Provider = *providerFlag
	}
	if *modelFlag != "" {
		cfg.Model = *modelFlag
	}
	if *logLevelFlag != "" {
		cfg.LogLevel = *logLevelFlag
	}
	if envLevel := strings.TrimSpace(os.Getenv("CHARLA_LOG_LEVEL")); envLevel != "" {
		cfg.LogLevel = envLevel
	}
	if envPath := strings.TrimSpace(os.Getenv("CHARLA_LOG_PATH")); envPath != "" {
		cfg.LogPath = envPath
	}

	var loggerInitialized bool
	defer func() {
		if !loggerInitialized {
			return
		}
		if err != nil {
			logger.Error("fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	loggerInitialized = true
	logger.Info("charla starting (provider=%s)", cfg.Provider)

	defer securemem.Purge()

	client, err := provider.NewClient(cfg)
	if err != nil {
		return err
	}

	st, err := store.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Warn("failed to close database: %v", closeErr)
		}
	}()

	ctx := context.Background()
	authSvc := auth.NewService(st, logger.Global())

	username, userID, err := authenticate(ctx, authSvc, *registerFlag)
	if err != nil {
		return err
	}

	notifier := tui.NewProgramNotifier()
	orch := orchestrator.New(orchestrator.Options{
		Store:        st,
		Client:       client,
		Builder:      prompt.NewBuilder(prompt.LanguageName(cfg.Language), cfg.PromptTokenBudget),
		Notifier:     notifier,
		UserID:       userID,
		MaxNewTokens: cfg.MaxNewTokens,
	})
	defer orch.Shutdown()

	sessionName, err := openInitialSession(ctx, orch)
	if err != nil {
		return err
	}

	account := &accountActions{auth: authSvc, userID: userID}
	model := tui.NewChatModel(orch, account, username, sessionName)
	model.SetTitleSuggester(session.NewTitleSuggester(client))
	program := tea.NewProgram(model, tea.WithAltScreen())
	notifier.Attach(program)

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("interface error: %w", err)
	}
	logger.Info("charla exiting")
	return nil
}

// openInitialSession resumes the most recent session, or creates the first
// one for a fresh account.
func openInitialSession(ctx context.Context, orch *orchestrator.Orchestrator) (string, error) {
	sessions, err := orch.ListSessions(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) > 0 {
		if err := orch.SwitchSession(ctx, sessions[0].ID); err != nil {
			return "", fmt.Errorf("failed to open session: %w", err)
		}
		return sessions[0].Name, nil
	}

	name := "Sesión de Chat"
	if _, err := orch.CreateSession(ctx, name); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return name, nil
}

// authenticate runs the pre-TUI login flow on the plain terminal.
func authenticate(ctx context.Context, svc *auth.Service, register bool) (string, int64, error) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Usuario: ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return "", 0, fmt.Errorf("failed to read username: %w", err)
	}
	username = strings.TrimSpace(username)

	if register {
		password, err := readPassword("Contraseña nueva: ")
		if err != nil {
			return "", 0, err
		}
		defer password.Destroy()

		confirm, err := readPassword("Repite la contraseña: ")
		if err != nil {
			return "", 0, err
		}
		defer confirm.Destroy()

		if !password.Equals(confirm.String()) {
			return "", 0, errors.New("passwords do not match")
		}
		id, err := svc.Register(ctx, username, password.String())
		if err != nil {
			return "", 0, err
		}
		fmt.Println("Cuenta creada.")
		return username, id, nil
	}

	for attempt := 1; attempt <= maxPasswordAttempts; attempt++ {
		password, err := readPassword("Contraseña: ")
		if err != nil {
			return "", 0, err
		}
		id, err := svc.Login(ctx, username, password.String())
		password.Destroy()
		if err == nil {
			return username, id, nil
		}
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			return "", 0, err
		}
		if attempt < maxPasswordAttempts {
			fmt.Println("Credenciales incorrectas, inténtalo de nuevo.")
		}
	}
	return "", 0, auth.ErrInvalidCredentials
}

// readPassword reads a password without echo when stdin is a terminal.
func readPassword(promptText string) (*securemem.String, error) {
	fmt.Print(promptText)

	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		pw := securemem.NewString(string(raw))
		securemem.Wipe(raw)
		return pw, nil
	}

	// Piped input, e.g. in scripts.
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return securemem.NewString(strings.TrimRight(line, "\r\n")), nil
}

// accountActions adapts the auth service to the session menu.
type accountActions struct {
	auth   *auth.Service
	userID int64
}

func (a *accountActions) DeleteAccount(ctx context.Context) error {
	return a.auth.DeleteAccount(ctx, a.userID)
}
