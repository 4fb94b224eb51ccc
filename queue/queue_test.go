package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragchat/core"
)

func newTestQueue(t *testing.T, maxLength int) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q := New(client, Config{
		Name:           "test:tasks",
		MaxLength:      maxLength,
		ReceiveTimeout: 100 * time.Millisecond,
	}, nil)
	return q, mr
}

func task(id string) *core.ChatTask {
	return &core.ChatTask{
		TaskID:    id,
		BotID:     "bot-1",
		SessionID: "sess-1",
		Query:     "What is RAG?",
	}
}

func TestPublish_RejectsAtBound(t *testing.T) {
	q, _ := newTestQueue(t, 2)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, task("t1")))
	require.NoError(t, q.Publish(ctx, task("t2")))

	err := q.Publish(ctx, task("t3"))
	assert.ErrorIs(t, err, core.ErrQueueFull)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "rejected task is not stored")
}

func TestPublish_Unbounded(t *testing.T) {
	q, _ := newTestQueue(t, 0)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.NoError(t, q.Publish(ctx, task("t")))
	}
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
}

func TestPublish_InvalidTask(t *testing.T) {
	q, _ := newTestQueue(t, 10)
	err := q.Publish(context.Background(), &core.ChatTask{TaskID: "t1"})
	assert.ErrorIs(t, err, core.ErrInvalidTask)
}

func TestReceive_FIFOAndAck(t *testing.T) {
	q, mr := newTestQueue(t, 10)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, task("t1")))
	require.NoError(t, q.Publish(ctx, task("t2")))

	c := q.Consumer("w0")
	d, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", d.Task.TaskID)

	inflight, err := mr.List("test:tasks:processing:w0")
	require.NoError(t, err)
	assert.Len(t, inflight, 1)

	require.NoError(t, c.Ack(ctx, d))
	assert.False(t, mr.Exists("test:tasks:processing:w0"))

	d, err = c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t2", d.Task.TaskID)
}

func TestReceive_TimesOutWhenEmpty(t *testing.T) {
	q, _ := newTestQueue(t, 10)
	_, err := q.Consumer("w0").Receive(context.Background())
	assert.ErrorIs(t, err, ErrNoTask)
}

func TestNack_DeadLettersWithoutRequeue(t *testing.T) {
	q, mr := newTestQueue(t, 10)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, task("t1")))

	c := q.Consumer("w0")
	d, err := c.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Nack(ctx, d, "panic: boom"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, mr.Exists("test:tasks:processing:w0"))

	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "panic: boom", dead[0].Reason)
	assert.Equal(t, "w0", dead[0].Consumer)
	assert.Contains(t, string(dead[0].Payload), `"task_id":"t1"`)
}

func TestReceive_MalformedPayloadIsDeadLettered(t *testing.T) {
	q, mr := newTestQueue(t, 10)
	ctx := context.Background()
	_, err := mr.Lpush("test:tasks", "not json")
	require.NoError(t, err)

	_, err = q.Consumer("w0").Receive(ctx)
	assert.ErrorIs(t, err, ErrMalformedTask)

	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, `"not json"`, string(dead[0].Payload))
}

func TestRecover_RequeuesInFlightTasks(t *testing.T) {
	q, _ := newTestQueue(t, 10)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, task("t1")))
	require.NoError(t, q.Publish(ctx, task("t2")))
	require.NoError(t, q.Publish(ctx, task("t3")))

	crashed := q.Consumer("w0")
	_, err := crashed.Receive(ctx)
	require.NoError(t, err)
	_, err = crashed.Receive(ctx)
	require.NoError(t, err)

	restarted := q.Consumer("w0")
	moved, err := restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	var order []string
	for i := 0; i < 3; i++ {
		d, err := restarted.Receive(ctx)
		require.NoError(t, err)
		order = append(order, d.Task.TaskID)
		require.NoError(t, restarted.Ack(ctx, d))
	}
	assert.Equal(t, []string{"t1", "t2", "t3"}, order)
}
