package openai

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
)

// GPTModel implements ai.ChatModel against the native OpenAI API.
// Unlike LangchainModel it sees typed HTTP status codes.
type GPTModel struct {
	client *goopenai.Client
	model  string
	logger *slog.Logger
}

// newGPTModel creates a GPTModel for a single API key.
func newGPTModel(model, apiKey, baseURL string) *GPTModel {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &GPTModel{
		client: goopenai.NewClientWithConfig(cfg),
		model:  model,
		logger: slog.Default().With("component", "gpt-model"),
	}
}

// NewGPTModel creates an ai.ChatModel backed by go-openai.
func NewGPTModel(model, apiKey, baseURL string) ai.ChatModel {
	return newGPTModel(model, apiKey, baseURL)
}

// Complete sends a chat completion request.
func (m *GPTModel) Complete(ctx context.Context, messages []core.Message, opts ai.CompletionOptions) (*ai.Completion, error) {
	req := goopenai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    make([]goopenai.ChatCompletionMessage, 0, len(messages)),
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	if opts.JSONMode {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		mapped := mapGPTError(err)
		m.logger.Debug("completion failed", "model", m.model, "err", mapped)
		return nil, mapped
	}
	if len(resp.Choices) < 1 {
		return nil, errors.New("openai: model returned no choices")
	}

	return &ai.Completion{
		Text:         resp.Choices[0].Message.Content,
		Model:        cmp.Or(resp.Model, m.model),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func mapGPTError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: openai: %v", core.ErrTimeout, err)
	}

	status := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: openai: %v", core.ErrRateLimited, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: openai: %v", core.ErrConfiguration, err)
	}
	return fmt.Errorf("openai: %w", err)
}
