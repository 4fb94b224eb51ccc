package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/storage"
)

// DefaultBatchSize is the number of chunks embedded per call.
const DefaultBatchSize = 32

// Pipeline embeds and stores chunks concurrently.
type Pipeline struct {
	chunks    storage.ChunkRepository
	pool      *ants.Pool
	proc      processor
	batchSize int
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent processing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithBatchSize sets how many chunks are embedded per call.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = DefaultBatchSize
		}
		p.batchSize = size
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(chunks storage.ChunkRepository, embedder ai.Embedder, opts ...Option) (*Pipeline, error) {
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		chunks:    chunks,
		pool:      pool,
		batchSize: DefaultBatchSize,
		logger:    slog.Default().With("component", "ingestion"),
	}
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	// processors are created after options so they get the final logger
	p.proc = newEmbeddingProcessor(chunks, embedder, p.logger)
	return p, nil
}

// Result summarizes an Ingest call.
type Result struct {
	Stored  int
	Batches int
	Elapsed time.Duration
}

// Ingest validates chunks, then embeds and stores them in collection in
// concurrent batches. It waits for every batch and returns the joined
// errors of the failed ones; chunks of successful batches stay stored.
func (p *Pipeline) Ingest(ctx context.Context, collection string, chunks []*core.Chunk) (*Result, error) {
	if collection == "" {
		return nil, ErrCollectionRequired
	}
	for i, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
	}

	start := time.Now()
	result := &Result{}
	if len(chunks) == 0 {
		return result, nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for from := 0; from < len(chunks); from += p.batchSize {
		batch := chunks[from:min(from+p.batchSize, len(chunks))]
		result.Batches++
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			err := p.proc.process(ctx, collection, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.logger.Error("error processing batch", "collection", collection, "chunks", len(batch), "err", err)
				errs = append(errs, err)
				return
			}
			result.Stored += len(batch)
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, fmt.Errorf("submit batch: %w", err))
			mu.Unlock()
		}
	}
	wg.Wait()

	result.Elapsed = time.Since(start)
	p.logger.Info("ingested chunks",
		"collection", collection,
		"stored", result.Stored,
		"batches", result.Batches,
		"elapsed", result.Elapsed)
	return result, errors.Join(errs...)
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
