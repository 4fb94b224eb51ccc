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

// Package keyrotation picks a usable provider credential per tenant.
//
// Keys are handed out round-robin from a per-tenant cursor. A key reported
// as rate limited is skipped until its cooldown window ends. When every key
// is cooling down, SelectKey fails with core.ErrAllKeysExhausted.
package keyrotation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/ragchat/core"
)

// DefaultCooldown is the fixed window a rate-limited key sits out.
const DefaultCooldown = 60 * time.Second

// Selection is a key chosen for one provider call.
type Selection struct {
	Key   string
	Index int
}

// Service selects keys and records rate limits.
type Service struct {
	store    Store
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCooldown sets the cooldown window. Non-positive values keep the default.
func WithCooldown(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Service over store.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		cooldown: DefaultCooldown,
		now:      time.Now,
		logger:   slog.Default().With("component", "keyrotation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cooldown returns the configured cooldown window.
func (s *Service) Cooldown() time.Duration {
	return s.cooldown
}

// SelectKey returns the next key of botID that is not cooling down.
func (s *Service) SelectKey(ctx context.Context, botID string, keys []string) (Selection, error) {
	if len(keys) == 0 {
		return Selection{}, fmt.Errorf("%w: no api keys for bot %s", core.ErrConfiguration, botID)
	}
	idx, err := s.store.Next(ctx, botID, len(keys), s.now())
	if err != nil {
		return Selection{}, err
	}
	if idx < 0 || idx >= len(keys) {
		s.logger.Warn("all keys cooling down", "bot_id", botID, "keys", len(keys))
		return Selection{}, fmt.Errorf("%w: bot %s has %d keys", core.ErrAllKeysExhausted, botID, len(keys))
	}
	return Selection{Key: keys[idx], Index: idx}, nil
}

// MarkRateLimited puts key index of botID on cooldown.
func (s *Service) MarkRateLimited(ctx context.Context, botID string, index int) error {
	now := s.now()
	if err := s.store.MarkRateLimited(ctx, botID, index, now, s.cooldown); err != nil {
		return err
	}
	s.logger.Info("key rate limited",
		"bot_id", botID,
		"key_index", index,
		"cooldown_until", now.Add(s.cooldown))
	return nil
}

// State returns the cooldown record of a key.
func (s *Service) State(ctx context.Context, botID string, index int) (core.KeyState, bool, error) {
	return s.store.State(ctx, botID, index)
}
