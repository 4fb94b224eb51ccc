package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragchat/cancel"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/metrics"
	"github.com/poiesic/ragchat/progress"
	"github.com/poiesic/ragchat/queue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	server    *Server
	queue     *queue.Queue
	publisher *progress.Publisher
	signal    *cancel.Signal
	metrics   *metrics.Metrics
}

func newHarness(t *testing.T, maxLength int, opts ...Option) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	config := queue.DefaultConfig()
	config.MaxLength = maxLength
	h := &harness{
		queue:     queue.New(client, config, nil),
		publisher: progress.NewPublisher(client, progress.Config{}),
		signal:    cancel.NewSignal(client, ""),
		metrics:   metrics.New(nil),
	}
	opts = append([]Option{
		WithMetrics(h.metrics.Handler()),
		WithRejectionHook(h.metrics.QueueRejected),
		WithHealthCheck(func(ctx context.Context) error { return client.Ping(ctx).Err() }),
	}, opts...)

	server, err := New(h.queue, h.publisher, h.signal, opts...)
	require.NoError(t, err)
	h.server = server
	return h
}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func sampleTask() map[string]any {
	return map[string]any{
		"bot_id":     "bot-1",
		"session_id": "sess-1",
		"query":      "what is rag?",
		"conversation_history": []map[string]string{
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"},
		},
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	h := newHarness(t, 10)

	_, err := New(nil, h.publisher, h.signal)
	assert.Equal(t, ErrQueueRequired, err)
	_, err = New(h.queue, nil, h.signal)
	assert.Equal(t, ErrProgressRequired, err)
	_, err = New(h.queue, h.publisher, nil)
	assert.Equal(t, ErrCancellerRequired, err)
}

func TestEnqueue(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	t.Run("assigns a task id", func(t *testing.T) {
		w := h.do(http.MethodPost, "/v1/tasks", sampleTask())
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

		var resp EnqueueResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.TaskID, 36)
		assert.Equal(t, core.StatusPending, resp.Status)
	})

	t.Run("keeps a caller task id", func(t *testing.T) {
		task := sampleTask()
		task["task_id"] = "task-42"
		w := h.do(http.MethodPost, "/v1/tasks", task)
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Contains(t, w.Body.String(), `"task_id":"task-42"`)
	})

	t.Run("admitted task reports pending progress", func(t *testing.T) {
		w := h.do(http.MethodGet, "/v1/tasks/task-42/progress", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var event core.ProgressEvent
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &event))
		assert.Equal(t, "task-42", event.TaskID)
		assert.Equal(t, core.StatusPending, event.Status)
		assert.Zero(t, event.Progress)
	})

	depth, err := h.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	t.Run("invalid task", func(t *testing.T) {
		task := sampleTask()
		task["query"] = "  "
		w := h.do(http.MethodPost, "/v1/tasks", task)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		h.server.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	depth, err = h.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth, "rejected requests are not enqueued")
}

func TestEnqueue_QueueFull(t *testing.T) {
	h := newHarness(t, 1)

	w := h.do(http.MethodPost, "/v1/tasks", sampleTask())
	require.Equal(t, http.StatusAccepted, w.Code)

	task := sampleTask()
	task["task_id"] = "rejected"
	w = h.do(http.MethodPost, "/v1/tasks", task)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	w = h.do(http.MethodGet, "/v1/tasks/rejected/progress", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "rejected tasks are not marked pending")

	w = h.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ragchat_queue_rejections_total 1")
}

func TestProgress(t *testing.T) {
	h := newHarness(t, 10)

	w := h.do(http.MethodGet, "/v1/tasks/task-1/progress", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := h.publisher.Publish(context.Background(), "task-1", 30, core.StatusProcessing, "retrieving", true)
	require.NoError(t, err)

	w = h.do(http.MethodGet, "/v1/tasks/task-1/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var event core.ProgressEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &event))
	assert.Equal(t, 30, event.Progress)
	assert.Equal(t, core.StatusProcessing, event.Status)
	assert.Equal(t, "retrieving", event.Message)
}

func TestEvents_StreamsUntilTerminal(t *testing.T) {
	h := newHarness(t, 10)
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	_, err := h.publisher.Publish(ctx, "task-1", 10, core.StatusProcessing, "reflecting", true)
	require.NoError(t, err)

	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/tasks/task-1/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan core.ProgressEvent, 8)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var ev core.ProgressEvent
			if json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev) == nil {
				events <- ev
			}
		}
	}()

	// the snapshot arrives once the subscription is live
	first := <-events
	assert.Equal(t, 10, first.Progress)

	_, err = h.publisher.Publish(ctx, "task-1", 60, core.StatusProcessing, "generating", true)
	require.NoError(t, err)
	_, err = h.publisher.Publish(ctx, "task-1", 100, core.StatusCompleted, "Completed", true)
	require.NoError(t, err)

	var rest []core.ProgressEvent
	for ev := range events {
		rest = append(rest, ev)
	}
	require.Len(t, rest, 2)
	assert.Equal(t, 60, rest[0].Progress)
	assert.Equal(t, core.StatusCompleted, rest[1].Status)
}

func TestEvents_FinishedTaskNotFound(t *testing.T) {
	h := newHarness(t, 10)
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	_, err := h.publisher.Publish(ctx, "task-1", 100, core.StatusCompleted, "Completed", true)
	require.NoError(t, err)

	for _, id := range []string{"task-1", "unknown"} {
		w := h.do(http.MethodGet, "/v1/tasks/"+id+"/events", nil)
		assert.Equal(t, http.StatusNotFound, w.Code, id)
		assert.Contains(t, w.Body.String(), "task not found or already finished")
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t, 10)
	startedAt := time.Now().Add(-time.Second)

	w := h.do(http.MethodPost, "/v1/sessions/sess-1/cancel", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"cancelled"`)

	cancelled, err := h.signal.IsCancelled(context.Background(), "sess-1", startedAt)
	require.NoError(t, err)
	assert.True(t, cancelled)

	cancelled, err = h.signal.IsCancelled(context.Background(), "sess-2", startedAt)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestQueueStats(t *testing.T) {
	h := newHarness(t, 10)
	h.do(http.MethodPost, "/v1/tasks", sampleTask())

	w := h.do(http.MethodGet, "/v1/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"depth":1,"dead_letters":0}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	h := newHarness(t, 10)
	w := h.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	down := newHarness(t, 10, WithHealthCheck(func(context.Context) error {
		return errors.New("redis unreachable")
	}))
	w = down.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis unreachable")
}

func TestListenAndServe_StopsWithContext(t *testing.T) {
	h := newHarness(t, 10)
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.server.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancelCtx()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
