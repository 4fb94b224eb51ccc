package cancel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragchat/core"
)

func newTestSignal(t *testing.T, opts ...Option) (*Signal, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSignal(client, "", opts...), mr
}

func TestCancelAndIsCancelled(t *testing.T) {
	s, mr := newTestSignal(t, WithTTL(time.Minute))
	ctx := context.Background()
	started := time.Now().Add(-time.Second)

	cancelled, err := s.IsCancelled(ctx, "sess-1", started)
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, s.Cancel(ctx, "sess-1"))
	cancelled, err = s.IsCancelled(ctx, "sess-1", started)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// other sessions are unaffected
	cancelled, err = s.IsCancelled(ctx, "sess-2", started)
	require.NoError(t, err)
	assert.False(t, cancelled)

	// tasks started after the request are unaffected
	cancelled, err = s.IsCancelled(ctx, "sess-1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, cancelled)

	assert.Equal(t, time.Minute, mr.TTL("chat:cancel:sess-1"))
	require.NoError(t, s.Clear(ctx, "sess-1"))
	cancelled, err = s.IsCancelled(ctx, "sess-1", started)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestCancel_RequiresSession(t *testing.T) {
	s, _ := newTestSignal(t)
	assert.ErrorIs(t, s.Cancel(context.Background(), ""), core.ErrMissingIdentifier)
}

func TestWatch_CancelsWithCause(t *testing.T) {
	base := time.Now()
	s, _ := newTestSignal(t, WithClock(func() time.Time { return base }))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	watched, stop := s.Watch(ctx, "sess-1", 10*time.Millisecond)
	defer stop()

	require.NoError(t, s.Cancel(ctx, "sess-1"))

	select {
	case <-watched.Done():
		assert.True(t, errors.Is(context.Cause(watched), core.ErrCancelled))
	case <-ctx.Done():
		t.Fatal("watched context was not cancelled")
	}
}

func TestWatch_StopEndsPolling(t *testing.T) {
	s, _ := newTestSignal(t)
	watched, stop := s.Watch(context.Background(), "sess-1", 10*time.Millisecond)
	stop()
	stop()

	<-watched.Done()
	assert.ErrorIs(t, context.Cause(watched), context.Canceled)
	assert.NotErrorIs(t, context.Cause(watched), core.ErrCancelled)
}
