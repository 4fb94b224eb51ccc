package storage

import (
	"context"

	"github.com/poiesic/ragchat/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// WithTransaction executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Close releases resources held by the repository. The backend is
	// closed separately.
	Close() error
}

// ChunkRepository stores embedded document chunks grouped into per-tenant
// collections.
type ChunkRepository interface {
	Repository

	// AddChunks stores chunks in a collection, keyed by Chunk.Identity.
	// Existing chunks with the same identity are replaced.
	AddChunks(ctx context.Context, collection string, chunks ...*core.Chunk) error

	// UpdateChunks replaces existing chunks.
	// Returns ErrNotFound if any chunk doesn't exist.
	UpdateChunks(ctx context.Context, collection string, chunks ...*core.Chunk) error

	// ListChunks returns every chunk in a collection, vectors included.
	ListChunks(ctx context.Context, collection string) ([]*core.Chunk, error)

	// CountChunks returns the number of chunks in a collection.
	CountChunks(ctx context.Context, collection string) (int, error)

	// DeleteCollection removes a collection and returns how many chunks it held.
	DeleteCollection(ctx context.Context, collection string) (int, error)

	// Collections returns the names of all non-empty collections.
	Collections(ctx context.Context) ([]string, error)

	// FindSimilar finds chunks in a collection similar to the given vector.
	// Returns copies with Score set to the similarity and no vector,
	// similarity >= minSimilarity, up to limit results, highest first.
	FindSimilar(ctx context.Context, collection string, vector []float32, minSimilarity float32, limit int) ([]core.Chunk, error)
}

// MemoryRepository stores long-term visitor profile entries per (bot, session).
type MemoryRepository interface {
	Repository

	// AppendMemory stores an entry. CreatedAt is set if zero.
	AppendMemory(ctx context.Context, entry *core.MemoryEntry) error

	// GetMemories returns up to limit entries for a session, newest first.
	// A limit <= 0 returns every entry.
	GetMemories(ctx context.Context, botID, sessionID string, limit int) ([]*core.MemoryEntry, error)
}

// ProviderRepository stores tenant provider configurations.
type ProviderRepository interface {
	Repository

	// PutProviderConfig creates or replaces the configuration for cfg.BotID.
	PutProviderConfig(ctx context.Context, cfg *core.ProviderConfig) error

	// GetProviderConfig returns the configuration for a bot.
	// Returns ErrNotFound if the bot has none.
	GetProviderConfig(ctx context.Context, botID string) (*core.ProviderConfig, error)

	// DeleteProviderConfig removes a bot's configuration.
	// Returns ErrNotFound if the bot has none.
	DeleteProviderConfig(ctx context.Context, botID string) error
}
