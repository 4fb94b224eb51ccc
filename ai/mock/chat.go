package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
)

// DefaultAnswer is returned by MockChatModel when no CompleteFunc is set.
const DefaultAnswer = "This is a mock answer."

// MockChatModel is a test double for ai.ChatModel.
type MockChatModel struct {
	// CompleteFunc is called by Complete if set.
	CompleteFunc func(ctx context.Context, messages []core.Message, opts ai.CompletionOptions) (*ai.Completion, error)

	mu        sync.Mutex
	callCount int
	calls     [][]core.Message
}

// NewMockChatModel creates a chat model mock with default behavior.
func NewMockChatModel() *MockChatModel {
	return &MockChatModel{}
}

// Complete records the messages and returns CompleteFunc's result or
// DefaultAnswer with one input token per prompt word.
func (m *MockChatModel) Complete(ctx context.Context, messages []core.Message, opts ai.CompletionOptions) (*ai.Completion, error) {
	m.mu.Lock()
	m.callCount++
	m.calls = append(m.calls, append([]core.Message(nil), messages...))
	fn := m.CompleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, messages, opts)
	}

	words := 0
	for _, msg := range messages {
		words += len(strings.Fields(msg.Content))
	}
	return &ai.Completion{
		Text:         DefaultAnswer,
		Model:        "mock",
		InputTokens:  words,
		OutputTokens: len(strings.Fields(DefaultAnswer)),
	}, nil
}

// CallCount returns the number of Complete calls.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Calls returns the messages of every call in order.
func (m *MockChatModel) Calls() [][]core.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]core.Message(nil), m.calls...)
}

// Reset clears recorded calls and injected behavior.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.calls = nil
	m.CompleteFunc = nil
}

// MockChatModelFactory is a test double for ai.ChatModelFactory. Every
// model it builds shares Model, and the keys it was asked for are recorded.
type MockChatModelFactory struct {
	Model *MockChatModel

	// NewChatModelFunc is called by NewChatModel if set.
	NewChatModelFunc func(provider, model, apiKey, baseURL string) (ai.ChatModel, error)

	mu   sync.Mutex
	keys []string
}

// NewMockChatModelFactory creates a factory handing out model.
func NewMockChatModelFactory(model *MockChatModel) *MockChatModelFactory {
	return &MockChatModelFactory{Model: model}
}

// NewChatModel records apiKey and returns the shared mock model.
func (f *MockChatModelFactory) NewChatModel(provider, model, apiKey, baseURL string) (ai.ChatModel, error) {
	f.mu.Lock()
	f.keys = append(f.keys, apiKey)
	f.mu.Unlock()

	if f.NewChatModelFunc != nil {
		return f.NewChatModelFunc(provider, model, apiKey, baseURL)
	}
	return f.Model, nil
}

// Keys returns the API keys models were built with, in order.
func (f *MockChatModelFactory) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}
