package providers

import (
	"context"
	"sync"

	"github.com/fableforge/fable/internal/generations"
)

// MockDispatcher is a configurable Dispatcher for tests.
type MockDispatcher struct {
	mu sync.Mutex

	// DispatchFunc overrides dispatch behavior. Nil means success.
	DispatchFunc func(ctx context.Context, gen *generations.Generation, webhookURL string) error

	dispatched []string
}

// Name returns the provider identifier.
func (m *MockDispatcher) Name() string { return "mock" }

// DispatchGeneration records the call and delegates to DispatchFunc.
func (m *MockDispatcher) DispatchGeneration(ctx context.Context, gen *generations.Generation, webhookURL string) error {
	m.mu.Lock()
	m.dispatched = append(m.dispatched, gen.ID)
	m.mu.Unlock()

	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, gen, webhookURL)
	}
	return nil
}

// Dispatched returns the generation ids dispatched so far.
func (m *MockDispatcher) Dispatched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.dispatched))
	copy(out, m.dispatched)
	return out
}

// MockRemover is a configurable BackgroundRemover for tests.
type MockRemover struct {
	mu sync.Mutex

	// RemoveFunc overrides removal behavior. Nil returns the bytes
	// "removed" for any URL.
	RemoveFunc func(ctx context.Context, imageURL string) ([]byte, error)

	calls []string
}

// Name returns the provider identifier.
func (m *MockRemover) Name() string { return "mock" }

// RemoveBackground records the call and delegates to RemoveFunc.
func (m *MockRemover) RemoveBackground(ctx context.Context, imageURL string) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, imageURL)
	m.mu.Unlock()

	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, imageURL)
	}
	return []byte("removed"), nil
}

// Calls returns the image URLs submitted so far.
func (m *MockRemover) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Verify interfaces
var (
	_ Dispatcher        = (*MockDispatcher)(nil)
	_ BackgroundRemover = (*MockRemover)(nil)
)
