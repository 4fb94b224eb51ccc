package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/storage"
)

func newTestRepos(t *testing.T) *Repositories {
	t.Helper()
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func TestChunkRepository_FindSimilar(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	err := repos.Chunks.AddChunks(ctx, "bot-1",
		&core.Chunk{Content: "exact", SourceURL: "u", ChunkIndex: 0, Vector: []float32{1, 0}},
		&core.Chunk{Content: "close", SourceURL: "u", ChunkIndex: 1, Vector: []float32{0.8, 0.6}},
		&core.Chunk{Content: "orthogonal", SourceURL: "u", ChunkIndex: 2, Vector: []float32{0, 1}},
		&core.Chunk{Content: "not embedded", SourceURL: "u", ChunkIndex: 3},
	)
	require.NoError(t, err)
	require.NoError(t, repos.Chunks.AddChunks(ctx, "bot-2",
		&core.Chunk{Content: "other tenant", Vector: []float32{1, 0}}))

	results, err := repos.Chunks.FindSimilar(ctx, "bot-1", []float32{1, 0}, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "exact", results[0].Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "close", results[1].Content)
	assert.InDelta(t, 0.8, results[1].Score, 1e-6)
	assert.Nil(t, results[0].Vector)

	limited, err := repos.Chunks.FindSimilar(ctx, "bot-1", []float32{1, 0}, -1, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "exact", limited[0].Content)

	_, err = repos.Chunks.FindSimilar(ctx, "bot-1", []float32{1, 0}, 0, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)

	empty, err := repos.Chunks.FindSimilar(ctx, "missing", []float32{1, 0}, 0, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestChunkRepository_AddIsUpsertByIdentity(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	require.NoError(t, repos.Chunks.AddChunks(ctx, "c", &core.Chunk{Content: "v1", SourceURL: "doc", ChunkIndex: 0}))
	require.NoError(t, repos.Chunks.AddChunks(ctx, "c", &core.Chunk{Content: "v2", SourceURL: "doc", ChunkIndex: 0, Score: 0.7}))

	chunks, err := repos.Chunks.ListChunks(ctx, "c")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "v2", chunks[0].Content)
	assert.Zero(t, chunks[0].Score, "scores are not persisted")

	n, err := repos.Chunks.CountChunks(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestChunkRepository_UpdateChunks(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	chunk := &core.Chunk{Content: "text", SourceURL: "doc", ChunkIndex: 4}
	require.NoError(t, repos.Chunks.AddChunks(ctx, "c", chunk))

	chunk.Vector = []float32{0.6, 0.8}
	require.NoError(t, repos.Chunks.UpdateChunks(ctx, "c", chunk))

	chunks, err := repos.Chunks.ListChunks(ctx, "c")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, []float32{0.6, 0.8}, chunks[0].Vector)

	err = repos.Chunks.UpdateChunks(ctx, "c", &core.Chunk{Content: "new", SourceURL: "doc", ChunkIndex: 5})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChunkRepository_Validation(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	err := repos.Chunks.AddChunks(ctx, "", &core.Chunk{Content: "x"})
	assert.ErrorIs(t, err, storage.ErrInvalidCollection)

	err = repos.Chunks.AddChunks(ctx, "bad\x00name", &core.Chunk{Content: "x"})
	assert.ErrorIs(t, err, storage.ErrInvalidCollection)

	err = repos.Chunks.AddChunks(ctx, "c", &core.Chunk{Content: "  "})
	assert.ErrorIs(t, err, core.ErrInvalidChunk)

	n, err := repos.Chunks.CountChunks(ctx, "c")
	require.NoError(t, err)
	assert.Zero(t, n, "failed batch must not be partially written")
}

func TestChunkRepository_CollectionsAndDelete(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	for _, name := range []string{"b", "a", "ab"} {
		require.NoError(t, repos.Chunks.AddChunks(ctx, name,
			&core.Chunk{Content: name + "-0", SourceURL: name, ChunkIndex: 0},
			&core.Chunk{Content: name + "-1", SourceURL: name, ChunkIndex: 1},
		))
	}

	names, err := repos.Chunks.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "ab", "b"}, names)

	removed, err := repos.Chunks.DeleteCollection(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	names, err = repos.Chunks.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ab", "b"}, names)

	n, err := repos.Chunks.CountChunks(ctx, "ab")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
