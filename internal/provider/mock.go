package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient is a scripted in-process provider. The default config ships
// one so a fresh install answers without API keys, and router tests use
// it to script failures deterministically.
type MockClient struct {
	name string

	mu    sync.Mutex
	calls int

	// Handler, when set, decides each call's outcome given the 1-based
	// call number. The default echoes the prompt.
	Handler func(call int, prompt string) (string, error)

	// Latency is simulated per call, honoring context cancellation.
	Latency time.Duration
}

// NewMockClient creates a mock provider named name.
func NewMockClient(name string) *MockClient {
	return &MockClient{name: name}
}

// Name returns the provider identifier.
func (m *MockClient) Name() string {
	return m.name
}

// Calls returns how many completions were attempted.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Complete runs the scripted handler.
func (m *MockClient) Complete(ctx context.Context, prompt, _ string) (*Completion, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	handler := m.Handler
	latency := m.Latency
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := fmt.Sprintf("[%s] %s", m.name, prompt)
	if handler != nil {
		var err error
		text, err = handler(call, prompt)
		if err != nil {
			return nil, err
		}
	}

	return &Completion{
		Text: text,
		Usage: Usage{
			PromptTokens:     len(prompt) / 4,
			CompletionTokens: len(text) / 4,
			TotalTokens:      (len(prompt) + len(text)) / 4,
		},
		Duration: latency,
	}, nil
}
