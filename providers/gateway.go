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

// Package providers calls tenant LLM providers.
//
// Source caches each bot's provider config, Decrypter opens encrypted API
// keys at the last moment, and Gateway runs a completion with key rotation:
// a rate-limited key is put on cooldown and the call moves to the next
// eligible key until none is left.
package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/keyrotation"
)

var tracer = otel.Tracer("ragchat.providers")

// Usage accounts for one successful completion.
type Usage struct {
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         float64
	KeyIndex     int
	Attempts     int
}

// RateLimitFunc observes a rate-limited key.
type RateLimitFunc func(botID string, keyIndex int)

// Gateway completes chat requests against tenant providers.
type Gateway struct {
	keys        *keyrotation.Service
	factory     ai.ChatModelFactory
	decrypter   *Decrypter
	prices      PriceTable
	logger      *slog.Logger
	onRateLimit RateLimitFunc
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithPrices sets the price table used for cost accounting.
func WithPrices(prices PriceTable) GatewayOption {
	return func(g *Gateway) {
		if prices != nil {
			g.prices = prices
		}
	}
}

// WithDecrypter sets the API key decrypter.
func WithDecrypter(d *Decrypter) GatewayOption {
	return func(g *Gateway) {
		if d != nil {
			g.decrypter = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRateLimitHook registers fn to observe rate-limited keys.
func WithRateLimitHook(fn RateLimitFunc) GatewayOption {
	return func(g *Gateway) {
		g.onRateLimit = fn
	}
}

// NewGateway creates a Gateway.
func NewGateway(keys *keyrotation.Service, factory ai.ChatModelFactory, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		keys:    keys,
		factory: factory,
		prices:  DefaultPrices(),
		logger:  slog.Default().With("component", "providers"),
	}
	g.decrypter, _ = NewDecrypter(nil)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Complete runs one completion for the bot described by cfg.
// Rate-limited keys are cooled down and the next eligible key is tried;
// when every key is cooling down the error wraps core.ErrAllKeysExhausted.
func (g *Gateway) Complete(ctx context.Context, cfg *core.ProviderConfig, messages []core.Message, opts ai.CompletionOptions) (*ai.Completion, *Usage, error) {
	keys := cfg.APIKeys
	if len(keys) == 0 && cfg.Provider == "ollama" {
		keys = []string{""}
	}

	var lastErr error
	for attempt := 1; attempt <= len(keys); attempt++ {
		sel, err := g.keys.SelectKey(ctx, cfg.BotID, keys)
		if err != nil {
			if lastErr != nil && errors.Is(err, core.ErrAllKeysExhausted) {
				return nil, nil, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return nil, nil, err
		}

		completion, err := g.call(ctx, cfg, sel, messages, opts)
		if err == nil {
			usage := &Usage{
				Provider:     cfg.Provider,
				Model:        completion.Model,
				InputTokens:  completion.InputTokens,
				OutputTokens: completion.OutputTokens,
				Cost:         g.prices.Cost(cfg.Provider, cfg.Model, completion.InputTokens, completion.OutputTokens),
				KeyIndex:     sel.Index,
				Attempts:     attempt,
			}
			return completion, usage, nil
		}
		if !errors.Is(err, core.ErrRateLimited) {
			return nil, nil, err
		}

		lastErr = err
		if markErr := g.keys.MarkRateLimited(ctx, cfg.BotID, sel.Index); markErr != nil {
			g.logger.Error("failed to record rate limit", "bot_id", cfg.BotID, "key_index", sel.Index, "err", markErr)
		}
		if g.onRateLimit != nil {
			g.onRateLimit(cfg.BotID, sel.Index)
		}
	}
	return nil, nil, fmt.Errorf("%w: bot %s tried %d keys (last error: %v)", core.ErrAllKeysExhausted, cfg.BotID, len(keys), lastErr)
}

func (g *Gateway) call(ctx context.Context, cfg *core.ProviderConfig, sel keyrotation.Selection, messages []core.Message, opts ai.CompletionOptions) (*ai.Completion, error) {
	ctx, span := tracer.Start(ctx, "provider.complete", trace.WithAttributes(
		attribute.String("provider", cfg.Provider),
		attribute.String("model", cfg.Model),
		attribute.Int("key_index", sel.Index),
	))
	defer span.End()

	apiKey, err := g.decrypter.Decrypt(sel.Key)
	if err != nil {
		span.SetStatus(codes.Error, "decrypt")
		return nil, fmt.Errorf("%w: key %d: %w", core.ErrConfiguration, sel.Index, err)
	}
	model, err := g.factory.NewChatModel(cfg.Provider, cfg.Model, apiKey, cfg.BaseURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	completion, err := model.Complete(ctx, messages, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Warn("provider call failed",
			"bot_id", cfg.BotID,
			"provider", cfg.Provider,
			"key_index", sel.Index,
			"err", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("tokens.input", completion.InputTokens),
		attribute.Int("tokens.output", completion.OutputTokens),
	)
	span.SetStatus(codes.Ok, "")
	if completion.Model == "" {
		completion.Model = cfg.Model
	}
	return completion, nil
}
