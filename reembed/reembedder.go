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

package reembed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of chunks embedded per call.
	BatchSize int

	// ReportInterval is how often to report progress, in chunks.
	ReportInterval int

	// MaxRetries bounds embedding attempts per batch.
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     time.Second,
	}
}

// Reembedder re-embeds chunk collections.
type Reembedder struct {
	repo      storage.ChunkRepository
	config    *Config
	report    ReportFunc
	logger    *slog.Logger
	processor *BatchProcessor
	iterator  *ChunkIterator
}

// Option configures a Reembedder.
type Option func(*Reembedder)

// WithReporter sets where progress is reported. Default is the logger.
func WithReporter(fn ReportFunc) Option {
	return func(r *Reembedder) {
		r.report = fn
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reembedder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReembedder creates a new reembedder. A nil config uses DefaultConfig.
func NewReembedder(repo storage.ChunkRepository, embedder ai.Embedder, config *Config, opts ...Option) (*Reembedder, error) {
	if repo == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}

	r := &Reembedder{
		repo:      repo,
		config:    config,
		logger:    slog.Default().With("component", "reembed"),
		processor: NewBatchProcessor(repo, embedder, config.MaxRetries, config.RetryDelay),
		iterator:  NewChunkIterator(repo, config.BatchSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.report == nil {
		r.report = LogReporter(r.logger)
	}
	return r, nil
}

// Run re-embeds every chunk of collection and returns the final progress.
func (r *Reembedder) Run(ctx context.Context, collection string) (Progress, error) {
	total, err := r.repo.CountChunks(ctx, collection)
	if err != nil {
		return Progress{Collection: collection}, fmt.Errorf("failed to count chunks: %w", err)
	}
	if total == 0 {
		r.logger.Info("collection is empty", "collection", collection)
		return Progress{Collection: collection, Done: true}, nil
	}

	r.logger.Info("starting reembedding", "collection", collection, "chunks", total, "batch_size", r.config.BatchSize)
	tracker := NewProgressTracker(r.report, collection, total, r.config.ReportInterval)
	tracker.Start()

	_, err = r.iterator.ForEach(ctx, collection, func(chunks []*core.Chunk) error {
		if err := r.processor.Process(ctx, collection, chunks); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		tracker.Increment(len(chunks))
		return nil
	})
	final := tracker.Finish()
	if err != nil {
		return final, err
	}

	r.logger.Info("reembedding complete",
		"collection", collection,
		"chunks", final.Current,
		"elapsed", final.Elapsed.Round(time.Millisecond))
	return final, nil
}

// RunAll re-embeds every collection in the store.
func (r *Reembedder) RunAll(ctx context.Context) ([]Progress, error) {
	collections, err := r.repo.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	results := make([]Progress, 0, len(collections))
	for _, collection := range collections {
		progress, err := r.Run(ctx, collection)
		results = append(results, progress)
		if err != nil {
			return results, fmt.Errorf("collection %s: %w", collection, err)
		}
	}
	return results, nil
}
