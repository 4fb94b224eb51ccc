package openai

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
)

// Provider names accepted in tenant provider configs.
const (
	ProviderOpenAI     = "openai"
	ProviderCompatible = "openai-compatible"
	ProviderOllama     = "ollama"
	ProviderAnthropic  = "anthropic"
)

// Factory builds tenant chat models.
type Factory struct{}

// NewFactory returns the production ai.ChatModelFactory.
func NewFactory() ai.ChatModelFactory {
	return &Factory{}
}

// NewChatModel returns a model bound to one API key.
func (f *Factory) NewChatModel(provider, model, apiKey, baseURL string) (ai.ChatModel, error) {
	if model == "" {
		return nil, fmt.Errorf("%w: model is required", core.ErrConfiguration)
	}

	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		return newGPTModel(model, apiKey, baseURL), nil

	case ProviderCompatible:
		if baseURL == "" {
			return nil, fmt.Errorf("%w: %s requires a base URL", core.ErrConfiguration, provider)
		}
		llm, err := openai.New(
			openai.WithBaseURL(baseURL),
			openai.WithToken(apiKey),
			openai.WithModel(model),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrConfiguration, err)
		}
		return newLangchainModel(llm, ProviderCompatible, model), nil

	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(model)}
		if baseURL != "" {
			opts = append(opts, ollama.WithServerURL(baseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrConfiguration, err)
		}
		return newLangchainModel(llm, ProviderOllama, model), nil

	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithToken(apiKey), anthropic.WithModel(model)}
		if baseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(baseURL))
		}
		llm, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrConfiguration, err)
		}
		return newLangchainModel(llm, ProviderAnthropic, model), nil
	}

	return nil, fmt.Errorf("%w: unknown provider %q", core.ErrConfiguration, provider)
}
