package openai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
)

// Summarizer implements ai.Summarizer with the reflection model.
type Summarizer struct {
	client llms.Model
	logger *slog.Logger
}

func newSummarizer(config *ai.Config) (*Summarizer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client, err := openai.New(
		openai.WithBaseURL(config.ReflectionHost),
		openai.WithToken("none"),
		openai.WithModel(config.ReflectionModel),
	)
	if err != nil {
		return nil, err
	}
	return newSummarizerWithModel(client), nil
}

func newSummarizerWithModel(client llms.Model) *Summarizer {
	return &Summarizer{
		client: client,
		logger: slog.Default().With("component", "llm-summarizer"),
	}
}

// NewSummarizer creates an LLM-backed summarizer.
func NewSummarizer(config *ai.Config) (ai.Summarizer, error) {
	return newSummarizer(config)
}

// Summarize returns one new profile line or "" when the model reports
// nothing new.
func (s *Summarizer) Summarize(ctx context.Context, existing []string, turn []core.Message) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, summaryPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildSummaryInput(existing, turn)),
	}
	response, err := s.client.GenerateContent(ctx, content, llms.WithTemperature(0.2), llms.WithMaxTokens(80))
	if err != nil {
		return "", mapProviderError("summary", err)
	}
	if len(response.Choices) < 1 {
		return "", nil
	}

	line := strings.TrimSpace(response.Choices[0].Content)
	line = strings.TrimPrefix(line, "- ")
	if line == "" || strings.EqualFold(strings.Trim(line, ".\"' "), "none") {
		return "", nil
	}
	for _, e := range existing {
		if strings.EqualFold(e, line) {
			return "", nil
		}
	}
	s.logger.Debug("summarized turn", "length", len(line))
	return line, nil
}
