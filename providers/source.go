package providers

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/storage"
)

// DefaultCacheTTL is how long a provider snapshot is reused.
const DefaultCacheTTL = 5 * time.Minute

type cached struct {
	config  core.ProviderConfig
	expires time.Time
}

// Source serves read-only provider config snapshots per bot.
// Concurrent misses for the same bot share one repository read.
type Source struct {
	repo  storage.ProviderRepository
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]cached
}

// NewSource creates a Source. Non-positive ttl selects DefaultCacheTTL.
func NewSource(repo storage.ProviderRepository, ttl time.Duration, now func() time.Time) *Source {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Source{
		repo:  repo,
		ttl:   ttl,
		now:   now,
		cache: make(map[string]cached),
	}
}

// Get returns a copy of the bot's provider config.
// Missing or incomplete configs fail with core.ErrConfiguration.
func (s *Source) Get(ctx context.Context, botID string) (*core.ProviderConfig, error) {
	s.mu.RLock()
	entry, ok := s.cache[botID]
	s.mu.RUnlock()
	if ok && s.now().Before(entry.expires) {
		return clone(entry.config), nil
	}

	v, err, _ := s.group.Do(botID, func() (any, error) {
		cfg, err := s.repo.GetProviderConfig(ctx, botID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: no provider configured for bot %s", core.ErrConfiguration, botID)
		}
		if err != nil {
			return nil, err
		}
		if err := validate(cfg); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[botID] = cached{config: *cfg, expires: s.now().Add(s.ttl)}
		s.mu.Unlock()
		return *cfg, nil
	})
	if err != nil {
		return nil, err
	}
	cfg := v.(core.ProviderConfig)
	return clone(cfg), nil
}

// Invalidate drops the cached snapshot of a bot.
func (s *Source) Invalidate(botID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, botID)
}

func validate(cfg *core.ProviderConfig) error {
	switch {
	case strings.TrimSpace(cfg.Provider) == "":
		return fmt.Errorf("%w: bot %s has no provider", core.ErrConfiguration, cfg.BotID)
	case strings.TrimSpace(cfg.Model) == "":
		return fmt.Errorf("%w: bot %s has no model", core.ErrConfiguration, cfg.BotID)
	case len(cfg.APIKeys) == 0 && cfg.Provider != "ollama":
		return fmt.Errorf("%w: bot %s has no api keys", core.ErrConfiguration, cfg.BotID)
	}
	return nil
}

func clone(cfg core.ProviderConfig) *core.ProviderConfig {
	cfg.APIKeys = slices.Clone(cfg.APIKeys)
	cfg.Config = maps.Clone(cfg.Config)
	return &cfg
}
