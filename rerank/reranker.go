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

// Package rerank re-scores retrieved chunks with a cross-encoder.
//
// Reranking never fails a task. When the scorer errors or exceeds the
// hard timeout, the chunks keep their retrieval order truncated to top_n
// and the degradation is logged and reported to the fallback hook.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
)

// DefaultTimeout bounds a single Rerank call.
const DefaultTimeout = 15 * time.Second

// ErrCrossEncoderRequired is returned when no scorer is provided.
var ErrCrossEncoderRequired = errors.New("cross-encoder required")

// FallbackFunc observes a degraded rerank.
type FallbackFunc func(reason error)

// Reranker orders chunks by cross-encoder relevance.
type Reranker struct {
	encoder    ai.CrossEncoder
	timeout    time.Duration
	logger     *slog.Logger
	onFallback FallbackFunc
}

// Option configures a Reranker.
type Option func(*Reranker)

// WithTimeout sets the hard wall-clock limit. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(r *Reranker) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reranker) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithFallbackHook registers fn to be called on every degraded rerank.
func WithFallbackHook(fn FallbackFunc) Option {
	return func(r *Reranker) {
		r.onFallback = fn
	}
}

// New creates a Reranker backed by encoder.
func New(encoder ai.CrossEncoder, opts ...Option) (*Reranker, error) {
	if encoder == nil {
		return nil, ErrCrossEncoderRequired
	}
	r := &Reranker{
		encoder: encoder,
		timeout: DefaultTimeout,
		logger:  slog.Default().With("component", "rerank"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type scoreResult struct {
	scores []float32
	err    error
}

// Rerank returns at most topN chunks ordered by cross-encoder score, each
// carrying its rerank and original scores. topN <= 0 keeps every chunk.
// The input slice is not modified.
func (r *Reranker) Rerank(ctx context.Context, query string, chunks []core.Chunk, topN int) []core.Chunk {
	if len(chunks) == 0 {
		return []core.Chunk{}
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// The scorer may ignore ctx; the buffered channel lets it finish late
	// without blocking.
	done := make(chan scoreResult, 1)
	start := time.Now()
	go func() {
		scores, err := r.encoder.Score(ctx, query, texts)
		done <- scoreResult{scores: scores, err: err}
	}()

	var res scoreResult
	select {
	case res = <-done:
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: rerank exceeded %s", core.ErrTimeout, r.timeout)
		}
		return r.fallback(chunks, topN, err)
	}

	if res.err != nil {
		return r.fallback(chunks, topN, res.err)
	}
	if len(res.scores) != len(chunks) {
		return r.fallback(chunks, topN, fmt.Errorf("cross-encoder returned %d scores for %d chunks", len(res.scores), len(chunks)))
	}

	out := make([]core.Chunk, len(chunks))
	for i := range chunks {
		out[i] = chunks[i].WithRerankScore(res.scores[i])
	}
	sortByScore(out)
	r.logger.Debug("reranked", "chunks", len(chunks), "top_n", topN, "elapsed", time.Since(start))
	return truncate(out, topN)
}

// fallback keeps retrieval order, preferring the preserved original score
// for chunks that were already narrowed by an earlier stage.
func (r *Reranker) fallback(chunks []core.Chunk, topN int, reason error) []core.Chunk {
	r.logger.Warn("rerank degraded to retrieval order", "chunks", len(chunks), "top_n", topN, "err", reason)
	if r.onFallback != nil {
		r.onFallback(reason)
	}

	out := make([]core.Chunk, len(chunks))
	for i, c := range chunks {
		if c.OriginalScore != nil {
			c.Score = *c.OriginalScore
		}
		c.Vector = nil
		out[i] = c
	}
	sortByScore(out)
	return truncate(out, topN)
}

func sortByScore(chunks []core.Chunk) {
	slices.SortStableFunc(chunks, func(a, b core.Chunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
}

func truncate(chunks []core.Chunk, topN int) []core.Chunk {
	if topN > 0 && len(chunks) > topN {
		return chunks[:topN]
	}
	return chunks
}
