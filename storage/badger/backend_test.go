package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragchat/storage"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_FileInTheWay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := OpenBackend(path, false)
	assert.Error(t, err)
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	err = backend.WithTransaction(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestDotProduct(t *testing.T) {
	assert.Equal(t, float32(0), dotProduct(nil, []float32{1}))
	assert.InDelta(t, 1.0, dotProduct([]float32{0.6, 0.8}, []float32{0.6, 0.8}), 1e-6)
	assert.InDelta(t, 0.6, dotProduct([]float32{1, 0, 5}, []float32{0.6, 0.8}), 1e-6)
}

func TestCollectionFromKey(t *testing.T) {
	key := makeChunkKey("bot-1", 42)
	assert.Equal(t, "bot-1", collectionFromKey(key))
}
