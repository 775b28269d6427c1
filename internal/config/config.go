package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Config represents application configuration
type Config struct {
	Provider          string `json:"provider"`                      // huggingface, openai, anthropic, google
	Model             string `json:"model,omitempty"`               // provider-specific model id
	Language          string `json:"language"`                      // reply language, BCP-47-ish ("es")
	MaxNewTokens      int    `json:"max_new_tokens,omitempty"`      // budget for the first generation call
	PromptTokenBudget int    `json:"prompt_token_budget,omitempty"` // 0 disables history trimming
	LogLevel          string `json:"log_level"`                     // debug, info, warn, error, none

	// Derived paths, not persisted
	DatabasePath string `json:"-"`
	LogPath      string `json:"-"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "charla")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "charla")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "charla")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "charla")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "charla")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "charla")
	default:
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "charla")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "charla")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	stateDir := defaultStateDir()
	return &Config{
		Provider:     "huggingface",
		Language:     "es",
		LogLevel:     "info",
		DatabasePath: filepath.Join(stateDir, "charla.db"),
		LogPath:      filepath.Join(stateDir, "charla.log"),
	}
}

// ConfigPath returns the path of the persisted config file
func ConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// Load reads the config file, filling in defaults for missing fields.
// A missing file is not an error; defaults are returned.
func Load() (*Config, error) {
	return loadFrom(ConfigPath())
}

func loadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Provider == "" {
		cfg.Provider = "huggingface"
	}
	if cfg.Language == "" {
		cfg.Language = "es"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// Save writes the config file, creating the config directory if needed
func (c *Config) Save() error {
	return c.saveTo(ConfigPath())
}

func (c *Config) saveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
