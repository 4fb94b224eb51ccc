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


package ai

import (
	"errors"
	"strings"
)

// Reflection modes.
const (
	ReflectionHeuristic = "heuristic"
	ReflectionLLM       = "llm"
)

// Config holds configuration for platform AI services. Tenant generation
// models are configured per bot and are not part of Config.
type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string `yaml:"embedding_host"`

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "embeddinggemma", "text-embedding-3-small"
	EmbeddingModel string `yaml:"embedding_model"`

	// ReflectionMode selects the reflector: "heuristic" or "llm".
	ReflectionMode string `yaml:"reflection_mode"`

	// ReflectionHost is the base URL for the reflection model API.
	// Only required when ReflectionMode is "llm".
	ReflectionHost string `yaml:"reflection_host"`

	// ReflectionModel is the model used for language/intent classification.
	// Example: "qwen2.5:3b", "gpt-4o-mini"
	ReflectionModel string `yaml:"reflection_model"`

	// RerankHost is the base URL of a TEI-compatible cross-encoder server.
	RerankHost string `yaml:"rerank_host"`

	// RerankModel is reported to the rerank server when it hosts several models.
	RerankModel string `yaml:"rerank_model"`

	// RerankBatchSize bounds the number of pairs scored per request.
	// Default: 32
	RerankBatchSize int `yaml:"rerank_batch_size"`
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithReflectionHost sets the reflection service host URL.
func WithReflectionHost(host string) ConfigOption {
	return func(c *Config) {
		c.ReflectionHost = host
	}
}

// WithHost sets both embedding and reflection hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.ReflectionHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithReflection selects the reflection mode and model.
func WithReflection(mode, model string) ConfigOption {
	return func(c *Config) {
		c.ReflectionMode = mode
		if model != "" {
			c.ReflectionModel = model
		}
	}
}

// WithRerank sets the cross-encoder host and model.
func WithRerank(host, model string) ConfigOption {
	return func(c *Config) {
		c.RerankHost = host
		c.RerankModel = model
	}
}

// WithRerankBatchSize sets how many pairs are scored per request.
func WithRerankBatchSize(size int) ConfigOption {
	return func(c *Config) {
		c.RerankBatchSize = size
	}
}

// DefaultConfig returns a Config with sensible defaults for local OpenAI-compatible services.
func DefaultConfig() *Config {
	defaultHost := "http://localhost:11434/v1"
	return &Config{
		EmbeddingHost:   defaultHost,
		EmbeddingModel:  "embeddinggemma",
		ReflectionMode:  ReflectionHeuristic,
		ReflectionHost:  defaultHost,
		ReflectionModel: "qwen2.5:3b",
		RerankHost:      "http://localhost:8080",
		RerankModel:     "BAAI/bge-reranker-base",
		RerankBatchSize: 32,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithHost("http://localhost:11434/v1"),
//	    WithEmbeddingModel("text-embedding-3-small"),
//	    WithReflection(ReflectionLLM, "gpt-4o-mini"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// It automatically adds the /v1 suffix to OpenAI-compatible hosts if missing.
// The rerank host is left alone; TEI servers are not versioned.
func (c *Config) Normalize() {
	c.EmbeddingHost = withV1(c.EmbeddingHost)
	c.ReflectionHost = withV1(c.ReflectionHost)
	c.RerankHost = strings.TrimSuffix(c.RerankHost, "/")
	if c.ReflectionMode == "" {
		c.ReflectionMode = ReflectionHeuristic
	}
}

func withV1(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	switch c.ReflectionMode {
	case ReflectionHeuristic:
	case ReflectionLLM:
		if c.ReflectionHost == "" {
			return errors.New("ai config: ReflectionHost is required for llm reflection")
		}
		if c.ReflectionModel == "" {
			return errors.New("ai config: ReflectionModel is required for llm reflection")
		}
	default:
		return errors.New("ai config: ReflectionMode must be heuristic or llm")
	}
	if c.RerankHost == "" {
		return errors.New("ai config: RerankHost is required")
	}
	if c.RerankBatchSize < 1 {
		return errors.New("ai config: RerankBatchSize must be at least 1")
	}
	return nil
}
