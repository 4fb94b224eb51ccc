// Package cancel carries per-session cancellation requests between the API
// and the workers.
//
// A request is a Redis key holding the time it was made. It cancels every
// task of the session that started processing at or before that time.
// Workers poll the key through Watch, which turns the signal into a context
// cancelled with cause core.ErrCancelled.
package cancel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/poiesic/ragchat/core"
)

// Defaults for signal lifetime and polling.
const (
	DefaultTTL          = 10 * time.Minute
	DefaultPollInterval = 250 * time.Millisecond
)

// Signal reads and writes cancellation requests.
type Signal struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Signal.
type Option func(*Signal)

// WithTTL sets how long a request stays active.
func WithTTL(ttl time.Duration) Option {
	return func(s *Signal) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Signal) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSignal creates a Signal whose keys start with prefix.
func NewSignal(client redis.UniversalClient, prefix string, opts ...Option) *Signal {
	s := &Signal{
		client: client,
		prefix: prefix,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default().With("component", "cancel"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Signal) key(sessionID string) string {
	return s.prefix + "chat:cancel:" + sessionID
}

// Cancel requests cancellation of the session's running tasks.
func (s *Signal) Cancel(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return core.ErrMissingIdentifier
	}
	at := s.now().UnixMilli()
	if err := s.client.Set(ctx, s.key(sessionID), at, s.ttl).Err(); err != nil {
		return fmt.Errorf("cancel session %s: %w", sessionID, err)
	}
	s.logger.Info("cancel requested", "session_id", sessionID)
	return nil
}

// Clear withdraws a pending request.
func (s *Signal) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

// IsCancelled reports whether a task of the session that started at
// startedAt has been asked to stop.
func (s *Signal) IsCancelled(ctx context.Context, sessionID string, startedAt time.Time) (bool, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	at, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("parse cancel signal: %w", err)
	}
	return at >= startedAt.UnixMilli(), nil
}

// Watch returns a context that is cancelled with cause core.ErrCancelled
// once a request for the session appears. Call stop to end polling.
func (s *Signal) Watch(ctx context.Context, sessionID string, interval time.Duration) (watched context.Context, stop context.CancelFunc) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	startedAt := s.now()
	watched, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-watched.Done():
				return
			case <-ticker.C:
				cancelled, err := s.IsCancelled(watched, sessionID, startedAt)
				if err != nil {
					s.logger.Warn("cancel poll failed", "session_id", sessionID, "err", err)
					continue
				}
				if cancelled {
					cancel(core.ErrCancelled)
					return
				}
			}
		}
	}()

	var once sync.Once
	return watched, func() {
		once.Do(func() {
			close(done)
			cancel(context.Canceled)
		})
	}
}
