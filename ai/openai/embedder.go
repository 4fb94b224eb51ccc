package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/poiesic/ragchat/ai"
)

// embedBatchSize bounds the texts sent per embedding request.
const embedBatchSize = 64

var errNoEmbedding = errors.New("embedding service returned no vector")

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
	logger   *slog.Logger
}

func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Local OpenAI-compatible services accept any token.
	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken("none"),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}
	return newEmbedderWithClient(client, config.EmbeddingModel)
}

func newEmbedderWithClient(client embeddings.EmbedderClient, model string) (*Embedder, error) {
	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(embedBatchSize),
	)
	if err != nil {
		return nil, err
	}
	return &Embedder{
		embedder: embedder,
		model:    model,
		logger:   slog.Default().With("component", "openai-embedder", "model", model),
	}, nil
}

// NewEmbedder creates a new embedder using the provided configuration.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// EmbedText embeds a search query.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vectors, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		e.logger.Error("failed to embed query", "length", len(text), "err", err)
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errNoEmbedding
	}
	vector := vectors[0]
	e.logger.Debug("embedded query", "length", len(text), "dims", len(vector), "elapsed", time.Since(start))
	return vector, nil
}

// EmbedTexts embeds document chunks in input order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	start := time.Now()
	// the langchaingo embedder strips newlines in place
	vectors, err := e.embedder.EmbedDocuments(ctx, slices.Clone(texts))
	if err != nil {
		e.logger.Error("failed to embed documents", "count", len(texts), "err", err)
		return nil, fmt.Errorf("embed %d documents: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", errNoEmbedding, len(vectors), len(texts))
	}
	e.logger.Debug("embedded documents", "count", len(texts), "elapsed", time.Since(start))
	return vectors, nil
}
