// Package provider selects and constructs the configured generation client.
package provider

import (
	"fmt"
	"os"
	"strings"

	"github.com/charla-ai/charla/internal/config"
	"github.com/charla-ai/charla/internal/llm"
	"github.com/charla-ai/charla/internal/securemem"
)

// providerEnvVars maps canonical provider names to the environment variables
// that can supply their API keys. Multiple variables allow aliases.
var providerEnvVars = map[string][]string{
	"huggingface": {"HUGGINGFACEHUB_API_TOKEN", "HF_TOKEN"},
	"openai":      {"OPENAI_API_KEY"},
	"anthropic":   {"ANTHROPIC_API_KEY"},
	"google":      {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// CanonicalName normalizes provider aliases.
func CanonicalName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "hf", "huggingface", "hugging-face":
		return "huggingface"
	case "google", "googleai", "gemini":
		return "google"
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}

// ResolveAPIKey looks up the provider's API key in the environment and moves
// it into protected memory. Returns nil when no key is set.
func ResolveAPIKey(providerName string) *securemem.String {
	for _, envVar := range providerEnvVars[CanonicalName(providerName)] {
		if value := strings.TrimSpace(os.Getenv(envVar)); value != "" {
			return securemem.NewString(value)
		}
	}
	return nil
}

// EnvVarHints returns the known environment variables for a provider, for
// contextual help when a key is missing.
func EnvVarHints(providerName string) []string {
	hints := providerEnvVars[CanonicalName(providerName)]
	out := make([]string, len(hints))
	copy(out, hints)
	return out
}

// NewClient constructs the generation client selected by cfg. The API key is
// read from the environment; a descriptive error names the expected
// variables when it is missing.
func NewClient(cfg *config.Config) (llm.Client, error) {
	name := CanonicalName(cfg.Provider)

	key := ResolveAPIKey(name)
	if key == nil {
		return nil, fmt.Errorf("no API key for provider %q: set one of %s",
			name, strings.Join(EnvVarHints(name), ", "))
	}
	defer key.Destroy()

	switch name {
	case "huggingface":
		return llm.NewHuggingFaceClient(key.String(), cfg.Model)
	case "openai":
		return llm.NewOpenAIClient(key.String(), cfg.Model)
	case "anthropic":
		return llm.NewAnthropicClient(key.String(), cfg.Model)
	case "google":
		return llm.NewGoogleClient(key.String(), cfg.Model)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
