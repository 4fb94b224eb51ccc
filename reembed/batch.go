package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/retry"
	"github.com/poiesic/ragchat/storage"
)

// BatchProcessor re-embeds batches of chunks.
type BatchProcessor struct {
	repo           storage.ChunkRepository
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// maxRetries bounds embedding attempts; retryBaseDelay is the base of the
// exponential backoff between them.
func NewBatchProcessor(repo storage.ChunkRepository, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		repo:           repo,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process embeds the chunks' content and replaces their stored vectors.
func (bp *BatchProcessor) Process(ctx context.Context, collection string, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	var embeddings [][]float32
	err := retry.RetryWithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}

	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(chunks), len(embeddings))
	}

	for i := range chunks {
		chunks[i].Vector = core.NormalizeVector(embeddings[i])
	}

	if err := bp.repo.UpdateChunks(ctx, collection, chunks...); err != nil {
		return fmt.Errorf("failed to update chunks: %w", err)
	}
	return nil
}
