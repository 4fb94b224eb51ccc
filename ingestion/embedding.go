package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/storage"
)

// embeddingProcessor embeds and stores chunks.
type embeddingProcessor struct {
	chunks   storage.ChunkRepository
	embedder ai.Embedder
	logger   *slog.Logger
}

var _ processor = (*embeddingProcessor)(nil)

func newEmbeddingProcessor(chunks storage.ChunkRepository, embedder ai.Embedder, logger *slog.Logger) *embeddingProcessor {
	return &embeddingProcessor{
		chunks:   chunks,
		embedder: embedder,
		logger:   logger.With("processor", "embeddings"),
	}
}

// process embeds the chunks that have no vector, normalizes every vector
// and stores the batch. Chunks are modified in place.
func (ep *embeddingProcessor) process(ctx context.Context, collection string, chunks []*core.Chunk) error {
	var missing []int
	for i, chunk := range chunks {
		if len(chunk.Vector) == 0 {
			missing = append(missing, i)
		}
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, at := range missing {
			texts[i] = chunks[at].Content
		}
		ep.logger.Debug("generating embeddings for chunks", "collection", collection, "chunks", len(texts))
		embeddings, err := ep.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			ep.logger.Error("error generating embeddings", "collection", collection, "err", err)
			return fmt.Errorf("embed chunks: %w", err)
		}
		if len(embeddings) != len(missing) {
			return fmt.Errorf("embedding result mismatch. expected %d, received %d", len(missing), len(embeddings))
		}
		for i, at := range missing {
			chunks[at].Vector = embeddings[i]
		}
	}

	for _, chunk := range chunks {
		chunk.Vector = core.NormalizeVector(chunk.Vector)
		chunk.Score = 0
		chunk.RerankScore = nil
		chunk.OriginalScore = nil
	}

	if err := ep.chunks.AddChunks(ctx, collection, chunks...); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}
	return nil
}
