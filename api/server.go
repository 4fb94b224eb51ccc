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

// Package api exposes task admission, progress and cancellation over HTTP.
//
//	POST /v1/tasks                  enqueue a chat task (429 when the queue is full)
//	GET  /v1/tasks/:id/progress     last persisted progress event
//	GET  /v1/tasks/:id/events       server-sent events until the task ends (404 once finished)
//	POST /v1/sessions/:id/cancel    request cancellation of a session's task
//	GET  /v1/queue                  queue depth and dead-letter count
//	GET  /healthz                   liveness
//	GET  /metrics                   Prometheus exposition
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/progress"
	"github.com/poiesic/ragchat/queue"
)

// ServiceName names the server in traces.
const ServiceName = "ragchat"

// TaskQueue admits tasks.
type TaskQueue interface {
	Publish(ctx context.Context, task *core.ChatTask) error
	Len(ctx context.Context) (int64, error)
	DeadLetters(ctx context.Context) ([]queue.DeadLetter, error)
}

// ProgressSource reads task progress and marks admitted tasks as pending.
type ProgressSource interface {
	MarkPending(ctx context.Context, taskID string) error
	Snapshot(ctx context.Context, taskID string) (*core.ProgressEvent, error)
	Watch(ctx context.Context, taskID string) (<-chan core.ProgressEvent, error)
}

// Canceller raises session cancel signals.
type Canceller interface {
	Cancel(ctx context.Context, sessionID string) error
}

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

// Server routes HTTP requests to the pipeline.
type Server struct {
	queue      TaskQueue
	progress   ProgressSource
	canceller  Canceller
	health     HealthFunc
	metrics    http.Handler
	onRejected func()
	logger     *slog.Logger
	router     *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealthCheck sets the probe behind /healthz.
func WithHealthCheck(fn HealthFunc) Option {
	return func(s *Server) {
		s.health = fn
	}
}

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithRejectionHook registers fn to be called for every task refused by a
// full queue.
func WithRejectionHook(fn func()) Option {
	return func(s *Server) {
		s.onRejected = fn
	}
}

// New creates a Server.
func New(q TaskQueue, p ProgressSource, c Canceller, opts ...Option) (*Server, error) {
	if q == nil {
		return nil, ErrQueueRequired
	}
	if p == nil {
		return nil, ErrProgressRequired
	}
	if c == nil {
		return nil, ErrCancellerRequired
	}
	s := &Server{
		queue:     q,
		progress:  p,
		canceller: c,
		logger:    slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(ServiceName), s.requestLogger())

	router.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := router.Group("/v1")
	v1.POST("/tasks", s.handleEnqueue)
	v1.GET("/tasks/:id/progress", s.handleProgress)
	v1.GET("/tasks/:id/events", s.handleEvents)
	v1.POST("/sessions/:id/cancel", s.handleCancel)
	v1.GET("/queue", s.handleQueue)
	return router
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}

// EnqueueResponse acknowledges an admitted task.
type EnqueueResponse struct {
	TaskID string          `json:"task_id"`
	Status core.TaskStatus `json:"status"`
}

func (s *Server) handleEnqueue(c *gin.Context) {
	var task core.ChatTask
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}

	err := s.queue.Publish(c.Request.Context(), &task)
	switch {
	case errors.Is(err, core.ErrQueueFull):
		if s.onRejected != nil {
			s.onRejected()
		}
		c.Header("Retry-After", "1")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	case errors.Is(err, core.ErrInvalidTask):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.logger.Error("enqueue failed", "task_id", task.TaskID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue task"})
		return
	}

	if err := s.progress.MarkPending(c.Request.Context(), task.TaskID); err != nil {
		s.logger.Warn("pending snapshot not stored", "task_id", task.TaskID, "err", err)
	}
	s.logger.Info("task admitted", "task_id", task.TaskID, "bot_id", task.BotID, "session_id", task.SessionID)
	c.JSON(http.StatusAccepted, EnqueueResponse{TaskID: task.TaskID, Status: core.StatusPending})
}

func (s *Server) handleProgress(c *gin.Context) {
	taskID := c.Param("id")
	event, err := s.progress.Snapshot(c.Request.Context(), taskID)
	if errors.Is(err, progress.ErrNoSnapshot) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no progress for task", "task_id": taskID})
		return
	}
	if err != nil {
		s.logger.Error("read snapshot failed", "task_id", taskID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read progress"})
		return
	}
	c.JSON(http.StatusOK, event)
}

func (s *Server) handleEvents(c *gin.Context) {
	taskID := c.Param("id")
	ctx := c.Request.Context()
	events, err := s.progress.Watch(ctx, taskID)
	if errors.Is(err, progress.ErrNoSnapshot) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found or already finished", "task_id": taskID})
		return
	}
	if err != nil {
		s.logger.Error("watch failed", "task_id", taskID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to watch progress"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent("progress", event)
			c.Writer.Flush()
			if event.Status.IsTerminal() {
				return
			}
		}
	}
}

func (s *Server) handleCancel(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.canceller.Cancel(c.Request.Context(), sessionID); err != nil {
		s.logger.Error("cancel failed", "session_id", sessionID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel session"})
		return
	}
	s.logger.Info("session cancel requested", "session_id", sessionID)
	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID, "status": core.StatusCancelled})
}

func (s *Server) handleQueue(c *gin.Context) {
	ctx := c.Request.Context()
	depth, err := s.queue.Len(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue"})
		return
	}
	dead, err := s.queue.DeadLetters(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read dead letters"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"depth": depth, "dead_letters": len(dead)})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
