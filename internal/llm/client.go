// Package llm contains the text-generation clients. Each client wraps one
// provider behind the same call-and-wait Generate contract; no streaming.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrEmptyPrompt is returned when a generation call is made with a
	// blank prompt
	ErrEmptyPrompt = errors.New("prompt must not be empty")
)

// Client is the interface for generation providers. Generate blocks until
// the provider returns, the context is cancelled, or the call times out.
type Client interface {
	// Generate produces a completion for prompt within the token budget.
	Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error)
	// ModelName returns the model identifier used for requests
	ModelName() string
}
