package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/poiesic/ragchat/ai"
)

// HTTPCrossEncoder implements ai.CrossEncoder against a TEI-compatible
// /rerank endpoint.
type HTTPCrossEncoder struct {
	host      string
	model     string
	batchSize int
	client    *http.Client
	logger    *slog.Logger
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type rerankScore struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// newCrossEncoder is an internal constructor that returns the concrete type.
func newCrossEncoder(config *ai.Config, client *http.Client) (*HTTPCrossEncoder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCrossEncoder{
		host:      config.RerankHost,
		model:     config.RerankModel,
		batchSize: config.RerankBatchSize,
		client:    client,
		logger:    slog.Default().With("component", "cross-encoder"),
	}, nil
}

// NewCrossEncoder creates a cross-encoder client. A nil client uses
// http.DefaultClient; deadlines come from the caller's context.
func NewCrossEncoder(config *ai.Config, client *http.Client) (ai.CrossEncoder, error) {
	return newCrossEncoder(config, client)
}

// Score returns one score per text in input order, batching requests.
func (c *HTTPCrossEncoder) Score(ctx context.Context, query string, texts []string) ([]float32, error) {
	scores := make([]float32, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		batch, err := c.scoreBatch(ctx, query, texts[start:end])
		if err != nil {
			return nil, err
		}
		for _, s := range batch {
			if s.Index < 0 || s.Index >= end-start {
				return nil, fmt.Errorf("rerank: index %d out of range", s.Index)
			}
			scores[start+s.Index] = s.Score
		}
	}
	c.logger.Debug("scored pairs", "count", len(texts))
	return scores, nil
}

func (c *HTTPCrossEncoder) scoreBatch(ctx context.Context, query string, texts []string) ([]rerankScore, error) {
	body, err := json.Marshal(rerankRequest{
		Model:    c.model,
		Query:    query,
		Texts:    texts,
		Truncate: true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var scores []rerankScore
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return nil, fmt.Errorf("rerank: decoding response: %w", err)
	}
	return scores, nil
}
