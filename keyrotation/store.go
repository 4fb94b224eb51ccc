package keyrotation

import (
	"context"
	"sync"
	"time"

	"github.com/poiesic/ragchat/core"
)

// Store holds rotation cursors and key cooldowns for all tenants.
// Next must pick and advance atomically so concurrent workers never select
// a key that is cooling down.
type Store interface {
	// Next returns the first index in [0, n) not cooling down at now,
	// scanning round-robin from the tenant's cursor, and moves the cursor
	// past it. It returns -1 when every key is cooling down.
	Next(ctx context.Context, botID string, n int, now time.Time) (int, error)

	// MarkRateLimited puts key index of botID on cooldown until now+cooldown.
	MarkRateLimited(ctx context.Context, botID string, index int, now time.Time, cooldown time.Duration) error

	// State returns the cooldown record of a key. ok is false when no
	// record exists.
	State(ctx context.Context, botID string, index int) (state core.KeyState, ok bool, err error)
}

type tenantKeys struct {
	cursor int
	states map[int]core.KeyState
}

// MemoryStore is a Store for a single process.
type MemoryStore struct {
	mu      sync.Mutex
	tenants map[string]*tenantKeys
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*tenantKeys)}
}

func (s *MemoryStore) tenant(botID string) *tenantKeys {
	t, ok := s.tenants[botID]
	if !ok {
		t = &tenantKeys{states: make(map[int]core.KeyState)}
		s.tenants[botID] = t
	}
	return t
}

func (s *MemoryStore) Next(_ context.Context, botID string, n int, now time.Time) (int, error) {
	if n <= 0 {
		return -1, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tenant(botID)
	for i := 0; i < n; i++ {
		idx := (t.cursor + i) % n
		if state, ok := t.states[idx]; ok && state.CooldownUntil.After(now) {
			continue
		}
		t.cursor = (idx + 1) % n
		return idx, nil
	}
	return -1, nil
}

func (s *MemoryStore) MarkRateLimited(_ context.Context, botID string, index int, now time.Time, cooldown time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenant(botID).states[index] = core.KeyState{
		CooldownUntil: now.Add(cooldown),
		LastRateLimit: now,
	}
	return nil
}

func (s *MemoryStore) State(_ context.Context, botID string, index int) (core.KeyState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[botID]
	if !ok {
		return core.KeyState{}, false, nil
	}
	state, ok := t.states[index]
	return state, ok, nil
}
