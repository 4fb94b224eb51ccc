package badger

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/storage"
)

// MemoryRepository implements storage.MemoryRepository for BadgerDB.
type MemoryRepository struct {
	backend *Backend
}

var _ storage.MemoryRepository = (*MemoryRepository)(nil)

// NewMemoryRepository creates a new visitor memory repository.
func NewMemoryRepository(backend *Backend) (storage.MemoryRepository, error) {
	if backend == nil {
		return nil, errors.New("badger: backend is required")
	}
	return &MemoryRepository{backend: backend}, nil
}

// Close is a no-op; the backend is closed by its owner.
func (r *MemoryRepository) Close() error {
	return nil
}

// WithTransaction delegates to the backend.
func (r *MemoryRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.backend.WithTransaction(ctx, fn)
}

// AppendMemory stores an entry under its session.
func (r *MemoryRepository) AppendMemory(ctx context.Context, entry *core.MemoryEntry) error {
	if entry == nil {
		return core.ErrMissingIdentifier
	}
	if err := validName(entry.BotID); err != nil {
		return err
	}
	if err := validName(entry.SessionID); err != nil {
		return err
	}
	if entry.Summary == "" {
		return core.ErrEmptyContent
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		value, err := storage.MarshalMemoryEntry(entry)
		if err != nil {
			return err
		}
		id := core.IDFromContent(entry.Summary + "\x00" + entry.TaskID + "\x00" + strconv.FormatInt(entry.CreatedAt.UnixNano(), 10))
		if err := tx.Set(makeMemoryKey(entry.BotID, entry.SessionID, entry.CreatedAt, id), value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetMemories returns a session's entries, newest first.
func (r *MemoryRepository) GetMemories(ctx context.Context, botID, sessionID string, limit int) ([]*core.MemoryEntry, error) {
	if err := validName(botID); err != nil {
		return nil, err
	}
	if err := validName(sessionID); err != nil {
		return nil, err
	}

	var entries []*core.MemoryEntry
	err := r.backend.scan(ctx, makeSessionPrefix(botID, sessionID), func(_, val []byte) error {
		entry, err := storage.UnmarshalMemoryEntry(val)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Reverse(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
