package search

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/storage"
)

// Narrower trims a stage's candidate set to its best topN chunks.
// rerank.Reranker satisfies it.
type Narrower interface {
	Rerank(ctx context.Context, query string, chunks []core.Chunk, topN int) []core.Chunk
}

// Config tunes retrieval depth.
type Config struct {
	// TopK is the result count in single-stage mode.
	TopK int `yaml:"top_k" validate:"gte=1"`

	// TwoStage enables broad-then-narrow retrieval with a refined second query.
	TwoStage bool `yaml:"two_stage"`

	TopK1 int `yaml:"top_k1" validate:"gte=1"`
	TopN1 int `yaml:"top_n1" validate:"gte=1"`
	TopK2 int `yaml:"top_k2" validate:"gte=1"`
	TopN2 int `yaml:"top_n2" validate:"gte=1"`

	// MinSimilarity drops candidates scoring below it. -1 keeps everything.
	MinSimilarity float32 `yaml:"min_similarity" validate:"gte=-1,lte=1"`
}

// DefaultConfig returns single-stage retrieval of five chunks.
func DefaultConfig() Config {
	return Config{
		TopK:          5,
		TopK1:         20,
		TopN1:         5,
		TopK2:         20,
		TopN2:         5,
		MinSimilarity: -1,
	}
}

// Searcher retrieves chunks from tenant-scoped collections.
type Searcher struct {
	chunks   storage.ChunkRepository
	embedder ai.Embedder
	narrower Narrower
	config   Config
	logger   *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithConfig replaces the default retrieval depths.
func WithConfig(config Config) Option {
	return func(s *Searcher) error {
		if config.TopK < 1 {
			return fmt.Errorf("%w: top_k %d", ErrInvalidDepth, config.TopK)
		}
		if config.TwoStage && (config.TopK1 < 1 || config.TopN1 < 1 || config.TopK2 < 1 || config.TopN2 < 1) {
			return fmt.Errorf("%w: two-stage depths must be positive", ErrInvalidDepth)
		}
		s.config = config
		return nil
	}
}

// WithNarrower sets the stage reranker used in two-stage mode.
// Without one, each stage keeps its topN by similarity.
func WithNarrower(n Narrower) Option {
	return func(s *Searcher) error {
		s.narrower = n
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(chunks storage.ChunkRepository, embedder ai.Embedder, opts ...Option) (*Searcher, error) {
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		chunks:   chunks,
		embedder: embedder,
		config:   DefaultConfig(),
		logger:   slog.Default().With("component", "search"),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Config returns the active retrieval depths.
func (s *Searcher) Config() Config {
	return s.config
}

// Search returns up to topK chunks of collection ordered by descending
// cosine similarity. vector is normalized before scoring.
func (s *Searcher) Search(ctx context.Context, collection string, vector []float32, topK int) ([]core.Chunk, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: top_k %d", ErrInvalidDepth, topK)
	}
	return s.chunks.FindSimilar(ctx, collection, core.NormalizeVector(vector), s.config.MinSimilarity, topK)
}

// Retrieve embeds query and searches collection.
// In single-stage mode a non-empty refinedQuery replaces query. In two-stage
// mode a refinedQuery different from query runs as a second concurrent
// stage; the narrowed sets are merged and deduplicated.
func (s *Searcher) Retrieve(ctx context.Context, collection, query, refinedQuery string) ([]core.Chunk, error) {
	return s.RetrieveWithMonitor(ctx, collection, query, refinedQuery, nil)
}

// RetrieveWithMonitor is Retrieve with callbacks at each stage.
func (s *Searcher) RetrieveWithMonitor(ctx context.Context, collection, query, refinedQuery string, monitor SearchMonitor) ([]core.Chunk, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	monitor.Start(collection, query)

	if !s.config.TwoStage {
		q := cmp.Or(refinedQuery, query)
		results, err := s.stage(ctx, collection, q, s.config.TopK, 0)
		if err != nil {
			return nil, err
		}
		monitor.AfterStage(1, q, results, results)
		monitor.Finish(results)
		return results, nil
	}

	runSecond := refinedQuery != "" && refinedQuery != query
	var first, second []core.Chunk
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		candidates, err := s.stage(gctx, collection, query, s.config.TopK1, 0)
		if err != nil {
			return err
		}
		first = s.narrow(gctx, query, candidates, s.config.TopN1)
		monitor.AfterStage(1, query, candidates, first)
		return nil
	})
	if runSecond {
		g.Go(func() error {
			candidates, err := s.stage(gctx, collection, refinedQuery, s.config.TopK2, 1)
			if err != nil {
				return err
			}
			second = s.narrow(gctx, refinedQuery, candidates, s.config.TopN2)
			monitor.AfterStage(2, refinedQuery, candidates, second)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged, dupes := Merge(first, second)
	monitor.AfterMerge(merged, dupes)
	s.logger.Debug("two-stage retrieval",
		"collection", collection,
		"stage1", len(first),
		"stage2", len(second),
		"merged", len(merged),
		"duplicates", dupes)
	monitor.Finish(merged)
	return merged, nil
}

func (s *Searcher) stage(ctx context.Context, collection, query string, topK, index int) ([]core.Chunk, error) {
	vector, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "stage", index+1, "err", err)
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := s.Search(ctx, collection, vector, topK)
	if err != nil {
		s.logger.Error("error querying for similar chunks", "collection", collection, "err", err)
		return nil, err
	}
	return results, nil
}

func (s *Searcher) narrow(ctx context.Context, query string, candidates []core.Chunk, topN int) []core.Chunk {
	if s.narrower != nil {
		return s.narrower.Rerank(ctx, query, candidates, topN)
	}
	if len(candidates) > topN {
		return candidates[:topN]
	}
	return candidates
}

// Merge concatenates chunk sets, keeping the higher-scored copy of chunks
// sharing an identity, and orders the result by descending score.
// It returns the merged set and the number of duplicates dropped.
func Merge(sets ...[]core.Chunk) ([]core.Chunk, int) {
	index := make(map[core.ID]int)
	var merged []core.Chunk
	dupes := 0
	for _, set := range sets {
		for _, chunk := range set {
			id := chunk.Identity()
			if at, ok := index[id]; ok {
				dupes++
				if chunk.Score > merged[at].Score {
					merged[at] = chunk
				}
				continue
			}
			index[id] = len(merged)
			merged = append(merged, chunk)
		}
	}
	slices.SortStableFunc(merged, func(a, b core.Chunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return merged, dupes
}

// TopScore returns the best retrieval score in chunks, or 0 when empty.
// Reranked chunks report their original similarity.
func TopScore(chunks []core.Chunk) float32 {
	var top float32
	for i, chunk := range chunks {
		score := chunk.Score
		if chunk.OriginalScore != nil {
			score = *chunk.OriginalScore
		}
		if i == 0 || score > top {
			top = score
		}
	}
	return top
}

// Confident reports whether the best retrieval score reaches threshold.
// A threshold of zero or less disables the gate.
func Confident(chunks []core.Chunk, threshold float32) bool {
	if threshold <= 0 {
		return true
	}
	return len(chunks) > 0 && TopScore(chunks) >= threshold
}
