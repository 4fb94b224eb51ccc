package reembed

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragchat/ai/mock"
)

func testConfig() *Config {
	return &Config{
		BatchSize:      3,
		ReportInterval: 3,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
	}
}

func TestNewReembedder(t *testing.T) {
	repo := setupTestDB(t)

	_, err := NewReembedder(nil, newEmbedder(), nil)
	assert.Equal(t, ErrChunkRepositoryRequired, err)

	_, err = NewReembedder(repo, nil, nil)
	assert.Equal(t, ErrEmbedderRequired, err)

	r, err := NewReembedder(repo, newEmbedder(), nil, WithLogger(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), r.config)
	assert.NotNil(t, r.report)
}

func TestReembedder_Run(t *testing.T) {
	repo := setupTestDB(t)
	seed(t, repo, "bot-1", 10)
	seed(t, repo, "bot-2", 2)
	ctx := context.Background()

	var buf bytes.Buffer
	embedder := newEmbedder()
	r, err := NewReembedder(repo, embedder, testConfig(), WithReporter(WriterReporter(&buf)))
	require.NoError(t, err)

	final, err := r.Run(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, 10, final.Current)
	assert.True(t, final.Done)
	assert.Equal(t, 4, embedder.CallCount())
	assert.Contains(t, buf.String(), "bot-1: 10/10")

	updated, err := repo.ListChunks(ctx, "bot-1")
	require.NoError(t, err)
	for _, chunk := range updated {
		assert.Equal(t, []float32{0, 1, 0}, chunk.Vector)
	}

	untouched, err := repo.ListChunks(ctx, "bot-2")
	require.NoError(t, err)
	for _, chunk := range untouched {
		assert.Equal(t, []float32{1, 0}, chunk.Vector)
	}
}

func TestReembedder_EmptyCollection(t *testing.T) {
	repo := setupTestDB(t)
	embedder := newEmbedder()
	r, err := NewReembedder(repo, embedder, testConfig())
	require.NoError(t, err)

	final, err := r.Run(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.True(t, final.Done)
	assert.Zero(t, final.Total)
	assert.Zero(t, embedder.CallCount())
}

func TestReembedder_StopsOnFailedBatch(t *testing.T) {
	repo := setupTestDB(t)
	seed(t, repo, "bot-1", 9)

	boom := errors.New("model unavailable")
	calls := 0
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls > 1 {
			return nil, boom
		}
		return newEmbedder().EmbedTexts(context.Background(), texts)
	}

	r, err := NewReembedder(repo, embedder, testConfig())
	require.NoError(t, err)

	final, err := r.Run(context.Background(), "bot-1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, final.Current, "only the first batch completed")
	assert.Equal(t, 3, calls, "first batch plus two attempts of the second")
}

func TestReembedder_RunAll(t *testing.T) {
	repo := setupTestDB(t)
	seed(t, repo, "bot-1", 4)
	seed(t, repo, "bot-2", 2)

	rec := &recorder{}
	r, err := NewReembedder(repo, newEmbedder(), testConfig(), WithReporter(rec.report))
	require.NoError(t, err)

	results, err := r.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	total := 0
	for _, p := range results {
		assert.True(t, p.Done)
		total += p.Current
	}
	assert.Equal(t, 6, total)
	assert.NotEmpty(t, rec.reports)
}
