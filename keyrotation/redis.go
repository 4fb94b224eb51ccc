package keyrotation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/poiesic/ragchat/core"
)

// nextKeyScript scans the tenant's keys round-robin from the stored cursor
// and advances the cursor past the first key whose cooldown has elapsed.
//
//	KEYS[1]      cursor
//	KEYS[2..n+1] per-key cooldown hashes
//	ARGV[1]      n
//	ARGV[2]      now in unix milliseconds
var nextKeyScript = redis.NewScript(`
local n = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local cursor = tonumber(redis.call('GET', KEYS[1]) or '0') or 0
for i = 0, n - 1 do
  local idx = (cursor + i) % n
  local untilMs = tonumber(redis.call('HGET', KEYS[idx + 2], 'until') or '0') or 0
  if untilMs <= now then
    redis.call('SET', KEYS[1], (idx + 1) % n)
    return idx
  end
end
return -1
`)

// RedisStore shares cursors and cooldowns between processes through Redis.
// Keys of one tenant share a hash tag so the script runs on one cluster slot.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store whose keys start with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) cursorKey(botID string) string {
	return fmt.Sprintf("%skeyrot:{%s}:cursor", s.prefix, botID)
}

func (s *RedisStore) cooldownKey(botID string, index int) string {
	return fmt.Sprintf("%skeyrot:{%s}:key:%d", s.prefix, botID, index)
}

func (s *RedisStore) Next(ctx context.Context, botID string, n int, now time.Time) (int, error) {
	if n <= 0 {
		return -1, nil
	}
	keys := make([]string, 0, n+1)
	keys = append(keys, s.cursorKey(botID))
	for i := 0; i < n; i++ {
		keys = append(keys, s.cooldownKey(botID, i))
	}
	idx, err := nextKeyScript.Run(ctx, s.client, keys, n, now.UnixMilli()).Int()
	if err != nil {
		return -1, fmt.Errorf("select key for %s: %w", botID, err)
	}
	return idx, nil
}

func (s *RedisStore) MarkRateLimited(ctx context.Context, botID string, index int, now time.Time, cooldown time.Duration) error {
	key := s.cooldownKey(botID, index)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"until", now.Add(cooldown).UnixMilli(),
			"last", now.UnixMilli())
		pipe.PExpire(ctx, key, cooldown)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark key %d of %s: %w", index, botID, err)
	}
	return nil
}

func (s *RedisStore) State(ctx context.Context, botID string, index int) (core.KeyState, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.cooldownKey(botID, index)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(fields) == 0) {
		return core.KeyState{}, false, nil
	}
	if err != nil {
		return core.KeyState{}, false, err
	}
	until, err := strconv.ParseInt(fields["until"], 10, 64)
	if err != nil {
		return core.KeyState{}, false, fmt.Errorf("parse cooldown of key %d: %w", index, err)
	}
	last, _ := strconv.ParseInt(fields["last"], 10, 64)
	return core.KeyState{
		CooldownUntil: time.UnixMilli(until),
		LastRateLimit: time.UnixMilli(last),
	}, true, nil
}
