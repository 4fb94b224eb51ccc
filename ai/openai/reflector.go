// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/ai/heuristic"
	"github.com/poiesic/ragchat/core"
)

const (
	reflectionAttempts   = 3
	reflectionMaxHistory = 6
)

// LLMReflector implements ai.Reflector with a JSON-mode chat model.
// Unparseable output falls back to the heuristic reflector; transport
// errors are returned.
type LLMReflector struct {
	client   llms.Model
	fallback ai.Reflector
	logger   *slog.Logger
}

// reflection matches the JSON object requested from the model.
type reflection struct {
	Language           string  `json:"language"`
	LanguageConfidence float64 `json:"language_confidence"`
	Intent             string  `json:"intent"`
	NeedsRetrieval     bool    `json:"needs_retrieval"`
	RewrittenQuery     string  `json:"rewritten_query"`
}

// newLLMReflector is an internal constructor that returns the concrete type.
func newLLMReflector(config *ai.Config) (*LLMReflector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Use "none" as token for local OpenAI-compatible services that don't require authentication
	client, err := openai.New(
		openai.WithBaseURL(config.ReflectionHost),
		openai.WithToken("none"),
		openai.WithModel(config.ReflectionModel),
	)
	if err != nil {
		return nil, err
	}
	return newLLMReflectorWithModel(client), nil
}

func newLLMReflectorWithModel(client llms.Model) *LLMReflector {
	return &LLMReflector{
		client:   client,
		fallback: heuristic.NewReflector(),
		logger:   slog.Default().With("component", "llm-reflector"),
	}
}

// NewLLMReflector creates a reflector using the configured reflection model.
func NewLLMReflector(config *ai.Config) (ai.Reflector, error) {
	return newLLMReflector(config)
}

// Reflect classifies the task's latest message.
func (r *LLMReflector) Reflect(ctx context.Context, task *core.ChatTask) (*ai.Reflection, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, buildReflectionPrompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, buildReflectionInput(task, reflectionMaxHistory)),
	}

	var lastErr error
	for attempt := 0; attempt < reflectionAttempts; attempt++ {
		response, err := r.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			r.logger.Error("failed to generate reflection", "attempt", attempt+1, "err", err)
			return nil, mapProviderError("reflection", err)
		}
		if len(response.Choices) < 1 {
			break
		}

		var out reflection
		responseText := cleanJSON(response.Choices[0].Content)
		if err := json.Unmarshal([]byte(responseText), &out); err != nil {
			lastErr = err
			r.logger.Warn("error parsing reflection response",
				"attempt", attempt+1,
				"response", responseText,
				"err", err)
			continue
		}
		return r.normalize(task, &out), nil
	}

	r.logger.Warn("falling back to heuristic reflection", "task_id", task.TaskID, "err", lastErr)
	return r.fallback.Reflect(ctx, task)
}

// normalize clamps model output into the values the pipeline routes on.
func (r *LLMReflector) normalize(task *core.ChatTask, out *reflection) *ai.Reflection {
	result := &ai.Reflection{
		Language:           strings.ToLower(strings.TrimSpace(out.Language)),
		LanguageConfidence: min(max(out.LanguageConfidence, 0), 1),
		Intent:             strings.ToLower(strings.TrimSpace(out.Intent)),
		NeedsRetrieval:     out.NeedsRetrieval,
		RewrittenQuery:     strings.TrimSpace(out.RewrittenQuery),
	}
	if len(result.Language) != 2 {
		result.Language, result.LanguageConfidence = heuristic.DetectLanguage(task.Query)
	}
	if !ai.IsKnownIntent(result.Intent) {
		result.Intent = heuristic.ClassifyIntent(task.Query)
	}
	if ai.ConversationalIntents[result.Intent] {
		result.NeedsRetrieval = false
	}
	if strings.EqualFold(result.RewrittenQuery, strings.TrimSpace(task.Query)) {
		result.RewrittenQuery = ""
	}
	return result
}
