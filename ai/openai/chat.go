package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainModel implements ai.ChatModel over any langchaingo llms.Model.
type LangchainModel struct {
	llm      llms.Model
	provider string
	model    string
	logger   *slog.Logger
}

// newLangchainModel wraps an already configured langchaingo model.
func newLangchainModel(llm llms.Model, provider, model string) *LangchainModel {
	return &LangchainModel{
		llm:      llm,
		provider: provider,
		model:    model,
		logger:   slog.Default().With("component", "langchain-model", "provider", provider),
	}
}

// NewLangchainModel wraps llm as an ai.ChatModel.
func NewLangchainModel(llm llms.Model, provider, model string) ai.ChatModel {
	return newLangchainModel(llm, provider, model)
}

// Complete sends messages to the model and reports token usage from the
// provider's generation info.
func (m *LangchainModel) Complete(ctx context.Context, messages []core.Message, opts ai.CompletionOptions) (*ai.Completion, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		content = append(content, llms.TextParts(toChatMessageType(msg.Role), msg.Content))
	}

	callOpts := []llms.CallOption{llms.WithTemperature(opts.Temperature)}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	if opts.JSONMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	response, err := m.llm.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		mapped := mapProviderError(m.provider, err)
		m.logger.Debug("completion failed", "model", m.model, "err", mapped)
		return nil, mapped
	}
	if len(response.Choices) < 1 {
		return nil, fmt.Errorf("%s: model returned no choices", m.provider)
	}

	choice := response.Choices[0]
	return &ai.Completion{
		Text:         choice.Content,
		Model:        m.model,
		InputTokens:  infoInt(choice.GenerationInfo, "PromptTokens", "InputTokens"),
		OutputTokens: infoInt(choice.GenerationInfo, "CompletionTokens", "OutputTokens"),
	}, nil
}

func toChatMessageType(role core.Role) llms.ChatMessageType {
	switch role {
	case core.RoleSystem:
		return llms.ChatMessageTypeSystem
	case core.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// mapProviderError normalizes provider failures onto the core error taxonomy.
func mapProviderError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", core.ErrTimeout, provider, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var mapped error
	switch provider {
	case ProviderOpenAI, ProviderCompatible:
		mapped = openai.MapError(err)
	case ProviderAnthropic:
		mapped = anthropic.MapError(err)
	default:
		mapped = llms.NewErrorMapper(provider).Map(err)
	}

	switch {
	case llms.IsRateLimitError(mapped):
		return fmt.Errorf("%w: %s: %v", core.ErrRateLimited, provider, err)
	case llms.IsTimeoutError(mapped):
		return fmt.Errorf("%w: %s: %v", core.ErrTimeout, provider, err)
	case llms.IsAuthenticationError(mapped):
		return fmt.Errorf("%w: %s: %v", core.ErrConfiguration, provider, err)
	}
	return fmt.Errorf("%s: %w", provider, err)
}

// infoInt reads the first present integer value among keys.
func infoInt(info map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
