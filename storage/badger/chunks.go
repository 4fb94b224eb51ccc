package badger

import (
	"context"
	"errors"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// newChunkRepository is an internal constructor that returns the concrete type.
func newChunkRepository(backend *Backend) *ChunkRepository {
	return &ChunkRepository{backend: backend}
}

// NewChunkRepository creates a new chunk repository.
func NewChunkRepository(backend *Backend) (storage.ChunkRepository, error) {
	if backend == nil {
		return nil, errors.New("badger: backend is required")
	}
	return newChunkRepository(backend), nil
}

// Close is a no-op; the backend is closed by its owner.
func (r *ChunkRepository) Close() error {
	return nil
}

// WithTransaction delegates to the backend.
func (r *ChunkRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.backend.WithTransaction(ctx, fn)
}

// AddChunks stores chunks keyed by identity, replacing existing ones.
func (r *ChunkRepository) AddChunks(ctx context.Context, collection string, chunks ...*core.Chunk) error {
	if err := validName(collection); err != nil {
		return err
	}
	return r.write(collection, chunks, false)
}

// UpdateChunks replaces existing chunks.
func (r *ChunkRepository) UpdateChunks(ctx context.Context, collection string, chunks ...*core.Chunk) error {
	if err := validName(collection); err != nil {
		return err
	}
	return r.write(collection, chunks, true)
}

func (r *ChunkRepository) write(collection string, chunks []*core.Chunk, mustExist bool) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, chunk := range chunks {
			if err := core.ValidateChunk(chunk); err != nil {
				return err
			}
			key := makeChunkKey(collection, chunk.Identity())
			if mustExist {
				if _, err := tx.Get(key); err != nil {
					if errors.Is(err, badger.ErrKeyNotFound) {
						return storage.ErrNotFound
					}
					return err
				}
			}

			// Scores are query-dependent and never persisted.
			stored := *chunk
			stored.Score = 0
			stored.RerankScore = nil
			stored.OriginalScore = nil

			value, err := storage.MarshalChunk(&stored)
			if err != nil {
				return err
			}
			if err := tx.Set(key, value); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// ListChunks returns every chunk in a collection.
func (r *ChunkRepository) ListChunks(ctx context.Context, collection string) ([]*core.Chunk, error) {
	if err := validName(collection); err != nil {
		return nil, err
	}
	var chunks []*core.Chunk
	err := r.backend.scan(ctx, makeCollectionPrefix(collection), func(_, val []byte) error {
		chunk, err := storage.UnmarshalChunk(val)
		if err != nil {
			return err
		}
		chunks = append(chunks, chunk)
		return nil
	})
	return chunks, err
}

// CountChunks returns the number of chunks in a collection.
func (r *ChunkRepository) CountChunks(ctx context.Context, collection string) (int, error) {
	if err := validName(collection); err != nil {
		return 0, err
	}
	keys, err := r.backend.keys(makeCollectionPrefix(collection))
	return len(keys), err
}

// DeleteCollection removes every chunk in a collection.
func (r *ChunkRepository) DeleteCollection(ctx context.Context, collection string) (int, error) {
	if err := validName(collection); err != nil {
		return 0, err
	}
	return r.backend.deletePrefix(makeCollectionPrefix(collection))
}

// Collections returns the sorted names of all non-empty collections.
func (r *ChunkRepository) Collections(ctx context.Context) ([]string, error) {
	keys, err := r.backend.keys([]byte(chunkPrefix))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, key := range keys {
		name := collectionFromKey(key)
		if len(names) == 0 || names[len(names)-1] != name {
			names = append(names, name)
		}
	}
	return names, nil
}

// FindSimilar scans a collection and ranks chunks by dot product against
// vector. Vectors are expected to be normalized, so this is cosine similarity.
func (r *ChunkRepository) FindSimilar(ctx context.Context, collection string, vector []float32, minSimilarity float32, limit int) ([]core.Chunk, error) {
	if err := validName(collection); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}

	var results []core.Chunk
	err := r.backend.scan(ctx, makeCollectionPrefix(collection), func(_, val []byte) error {
		chunk, err := storage.UnmarshalChunk(val)
		if err != nil {
			return err
		}
		// Skip chunks without embeddings
		if len(chunk.Vector) == 0 {
			return nil
		}

		similarity := dotProduct(vector, chunk.Vector)
		if similarity >= minSimilarity {
			chunk.Score = similarity
			chunk.Vector = nil
			results = append(results, *chunk)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending
	slices.SortStableFunc(results, func(a, b core.Chunk) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
