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
	"log/slog"
	"net/http"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/ai/heuristic"
)

// Provider implements ai.AIProvider using OpenAI-compatible services.
// It manages the embedder, reflector, cross-encoder and summarizer instances.
type Provider struct {
	config       *ai.Config
	embedder     *Embedder
	reflector    ai.Reflector
	crossEncoder *HTTPCrossEncoder
	summarizer   ai.Summarizer
	logger       *slog.Logger
}

// NewProvider creates a new AI provider with OpenAI-compatible services.
// The config is validated and normalized before use. In heuristic reflection
// mode no reflection model is contacted.
//
// Returns ai.AIProvider interface (not *Provider) to enforce abstraction
// and prevent coupling to OpenAI-specific implementation details.
func NewProvider(config *ai.Config, httpClient *http.Client) (ai.AIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(config)
	if err != nil {
		return nil, err
	}

	crossEncoder, err := newCrossEncoder(config, httpClient)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		config:       config,
		embedder:     embedder,
		crossEncoder: crossEncoder,
		logger:       slog.Default().With("component", "openai-provider"),
	}

	switch config.ReflectionMode {
	case ai.ReflectionLLM:
		reflector, err := newLLMReflector(config)
		if err != nil {
			return nil, err
		}
		summarizer, err := newSummarizer(config)
		if err != nil {
			return nil, err
		}
		p.reflector, p.summarizer = reflector, summarizer
	default:
		p.reflector, p.summarizer = heuristic.NewReflector(), heuristic.NewSummarizer()
	}

	return p, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Reflector returns the reflection service.
func (p *Provider) Reflector() ai.Reflector {
	return p.reflector
}

// CrossEncoder returns the rerank scoring service.
func (p *Provider) CrossEncoder() ai.CrossEncoder {
	return p.crossEncoder
}

// Summarizer returns the visitor memory summarizer.
func (p *Provider) Summarizer() ai.Summarizer {
	return p.summarizer
}

// Close releases resources held by the provider.
// Currently a no-op as the underlying clients don't require explicit cleanup.
func (p *Provider) Close() error {
	p.logger.Debug("closing OpenAI provider")
	return nil
}
