package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockCall records the arguments of one Generate invocation.
type MockCall struct {
	Prompt       string
	MaxNewTokens int
}

// MockClient is a scriptable Client for tests. Responses are consumed in
// order; when GenerateFunc is set it takes precedence.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     []MockCall

	// GenerateFunc, when non-nil, fully controls Generate. Useful for
	// timing-sensitive tests that need to block or observe cancellation.
	GenerateFunc func(ctx context.Context, prompt string, maxNewTokens int) (string, error)
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates a mock that replays the given responses in order.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{responses: responses}
}

// QueueError appends an error result after the queued responses.
func (m *MockClient) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

func (m *MockClient) ModelName() string {
	return "mock"
}

func (m *MockClient) Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Prompt: prompt, MaxNewTokens: maxNewTokens})
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt, maxNewTokens)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.responses) > 0 {
		resp := m.responses[0]
		m.responses = m.responses[1:]
		return resp, nil
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	return "", fmt.Errorf("mock client: no scripted response left for prompt %q", prompt)
}

// Calls returns a copy of the recorded invocations.
func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Generate invocations so far.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
