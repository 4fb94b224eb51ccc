// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reembed

import (
	"context"

	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/storage"
)

// DefaultBatchSize is the default number of chunks per batch.
const DefaultBatchSize = 100

// ChunkIterator walks a collection in batches.
type ChunkIterator struct {
	repo      storage.ChunkRepository
	batchSize int
}

// NewChunkIterator creates a new chunk iterator.
// A batchSize <= 0 uses DefaultBatchSize.
func NewChunkIterator(repo storage.ChunkRepository, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ChunkIterator{
		repo:      repo,
		batchSize: batchSize,
	}
}

// ForEach calls fn for each batch of collection and returns the number of
// chunks visited. Iteration stops on the first error from fn.
// Context cancellation is checked between batches.
func (it *ChunkIterator) ForEach(ctx context.Context, collection string, fn func([]*core.Chunk) error) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	chunks, err := it.repo.ListChunks(ctx, collection)
	if err != nil {
		return 0, err
	}

	visited := 0
	for from := 0; from < len(chunks); from += it.batchSize {
		batch := chunks[from:min(from+it.batchSize, len(chunks))]
		if err := fn(batch); err != nil {
			return visited, err
		}
		visited += len(batch)

		if err := ctx.Err(); err != nil {
			return visited, err
		}
	}
	return visited, nil
}
