package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
)

// stubLLM is an llms.Model returning a canned response or error.
type stubLLM struct {
	content  string
	info     map[string]any
	err      error
	messages []llms.MessageContent
}

func (s *stubLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	s.messages = messages
	if s.err != nil {
		return nil, s.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: s.content, GenerationInfo: s.info}},
	}, nil
}

func (s *stubLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, options...)
}

func TestLangchainModel_Complete(t *testing.T) {
	llm := &stubLLM{
		content: "RAG retrieves documents before generating.",
		info:    map[string]any{"PromptTokens": 42, "CompletionTokens": 7},
	}
	model := NewLangchainModel(llm, ProviderCompatible, "qwen")

	out, err := model.Complete(context.Background(), []core.Message{
		{Role: core.RoleSystem, Content: "be brief"},
		{Role: core.RoleUser, Content: "What is RAG?"},
	}, ai.CompletionOptions{Temperature: 0.1, MaxTokens: 100})
	require.NoError(t, err)

	assert.Equal(t, "RAG retrieves documents before generating.", out.Text)
	assert.Equal(t, "qwen", out.Model)
	assert.Equal(t, 42, out.InputTokens)
	assert.Equal(t, 7, out.OutputTokens)

	require.Len(t, llm.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, llm.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, llm.messages[1].Role)
}

func TestLangchainModel_AnthropicUsageKeys(t *testing.T) {
	llm := &stubLLM{content: "ok", info: map[string]any{"InputTokens": 11, "OutputTokens": 3}}
	out, err := NewLangchainModel(llm, ProviderAnthropic, "claude").Complete(context.Background(),
		[]core.Message{{Role: core.RoleUser, Content: "hi"}}, ai.CompletionOptions{})
	require.NoError(t, err)
	assert.Equal(t, 11, out.InputTokens)
	assert.Equal(t, 3, out.OutputTokens)
}

func TestMapProviderError(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		err      error
		want     error
	}{
		{"openai 429", ProviderCompatible, errors.New("API returned unexpected status code: 429: Rate limit exceeded"), core.ErrRateLimited},
		{"ollama too many requests", ProviderOllama, errors.New("too many requests"), core.ErrRateLimited},
		{"anthropic rate limit", ProviderAnthropic, errors.New("rate_limit_error: rate limit exceeded"), core.ErrRateLimited},
		{"deadline", ProviderOpenAI, context.DeadlineExceeded, core.ErrTimeout},
		{"bad key", ProviderCompatible, errors.New("incorrect api key provided"), core.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapProviderError(tt.provider, tt.err), tt.want)
		})
	}

	t.Run("other errors pass through", func(t *testing.T) {
		err := mapProviderError(ProviderOllama, errors.New("connection refused"))
		assert.NotErrorIs(t, err, core.ErrRateLimited)
		assert.Contains(t, err.Error(), "connection refused")
	})
}
