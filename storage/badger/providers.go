package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/storage"
)

// ProviderRepository implements storage.ProviderRepository for BadgerDB.
type ProviderRepository struct {
	backend *Backend
}

var _ storage.ProviderRepository = (*ProviderRepository)(nil)

// NewProviderRepository creates a new provider config repository.
func NewProviderRepository(backend *Backend) (storage.ProviderRepository, error) {
	if backend == nil {
		return nil, errors.New("badger: backend is required")
	}
	return &ProviderRepository{backend: backend}, nil
}

// Close is a no-op; the backend is closed by its owner.
func (r *ProviderRepository) Close() error {
	return nil
}

// WithTransaction delegates to the backend.
func (r *ProviderRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.backend.WithTransaction(ctx, fn)
}

// PutProviderConfig creates or replaces a bot's configuration.
func (r *ProviderRepository) PutProviderConfig(ctx context.Context, cfg *core.ProviderConfig) error {
	if cfg == nil {
		return core.ErrMissingIdentifier
	}
	if err := validName(cfg.BotID); err != nil {
		return err
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		value, err := storage.MarshalProviderConfig(cfg)
		if err != nil {
			return err
		}
		if err := tx.Set(makeProviderKey(cfg.BotID), value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetProviderConfig returns a bot's configuration.
func (r *ProviderRepository) GetProviderConfig(ctx context.Context, botID string) (*core.ProviderConfig, error) {
	var cfg *core.ProviderConfig
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		val, err := get(tx, makeProviderKey(botID))
		if err != nil {
			return err
		}
		cfg, err = storage.UnmarshalProviderConfig(val)
		return err
	}, false)
	return cfg, err
}

// DeleteProviderConfig removes a bot's configuration.
func (r *ProviderRepository) DeleteProviderConfig(ctx context.Context, botID string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeProviderKey(botID)
		if _, err := get(tx, key); err != nil {
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
