package mock

import (
	"context"
	"sync"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
)

// MockReflector is a test double for ai.Reflector.
type MockReflector struct {
	// ReflectFunc is called by Reflect if set.
	ReflectFunc func(ctx context.Context, task *core.ChatTask) (*ai.Reflection, error)

	mu        sync.Mutex
	callCount int
}

// NewMockReflector creates a reflector that routes everything to retrieval.
func NewMockReflector() *MockReflector {
	return &MockReflector{}
}

// Reflect returns ReflectFunc's result or an English question needing retrieval.
func (m *MockReflector) Reflect(ctx context.Context, task *core.ChatTask) (*ai.Reflection, error) {
	m.mu.Lock()
	m.callCount++
	fn := m.ReflectFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, task)
	}
	return &ai.Reflection{
		Language:           "en",
		LanguageConfidence: 1,
		Intent:             ai.IntentQuestion,
		NeedsRetrieval:     true,
	}, nil
}

// CallCount returns the number of Reflect calls.
func (m *MockReflector) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Reset clears the call count and injected behavior.
func (m *MockReflector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.ReflectFunc = nil
}

// MockSummarizer is a test double for ai.Summarizer.
type MockSummarizer struct {
	// SummarizeFunc is called by Summarize if set.
	SummarizeFunc func(ctx context.Context, existing []string, turn []core.Message) (string, error)

	mu        sync.Mutex
	callCount int
}

// NewMockSummarizer creates a summarizer mock.
func NewMockSummarizer() *MockSummarizer {
	return &MockSummarizer{}
}

// Summarize returns SummarizeFunc's result or "Asked: <last user message>".
func (m *MockSummarizer) Summarize(ctx context.Context, existing []string, turn []core.Message) (string, error) {
	m.mu.Lock()
	m.callCount++
	fn := m.SummarizeFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, existing, turn)
	}
	for i := len(turn) - 1; i >= 0; i-- {
		if turn[i].Role == core.RoleUser {
			return "Asked: " + turn[i].Content, nil
		}
	}
	return "", nil
}

// CallCount returns the number of Summarize calls.
func (m *MockSummarizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}
