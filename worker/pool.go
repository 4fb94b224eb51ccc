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

// Package worker runs a fixed number of queue consumers, each processing
// one chat task at a time.
//
// A task is acknowledged once the runner returns a result, whatever its
// status. A task whose processing panics or yields no result is moved to
// the dead-letter list and never requeued. Tasks left in a consumer's
// processing list by a crash are moved back to the queue when that
// consumer starts again.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/queue"
)

const (
	// DefaultConcurrency is the default number of worker loops.
	DefaultConcurrency = 4

	// DefaultConsumerPrefix names consumers "<prefix>-<n>".
	DefaultConsumerPrefix = "worker"

	defaultErrorBackoff = time.Second
)

// ErrQueueRequired is returned when no queue is provided.
var ErrQueueRequired = errors.New("queue required")

// ErrRunnerRequired is returned when no runner is provided.
var ErrRunnerRequired = errors.New("runner required")

// Runner processes one task to a terminal result.
// orchestration.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, task *core.ChatTask) (*core.TaskResult, error)
}

// Pool consumes the task queue with a bounded number of workers.
type Pool struct {
	queue        *queue.Queue
	runner       Runner
	size         int
	prefix       string
	errorBackoff time.Duration
	inFlight     func() func()
	logger       *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithConcurrency sets the number of worker loops.
func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithConsumerPrefix sets the consumer name prefix. Names must be stable
// across restarts of the same process for crash recovery.
func WithConsumerPrefix(prefix string) Option {
	return func(p *Pool) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithErrorBackoff sets the pause after a failed receive.
func WithErrorBackoff(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.errorBackoff = d
		}
	}
}

// WithInFlightHook registers fn to be called when a task starts; the func
// it returns is called when the task ends.
func WithInFlightHook(fn func() func()) Option {
	return func(p *Pool) {
		p.inFlight = fn
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Pool.
func New(q *queue.Queue, runner Runner, opts ...Option) (*Pool, error) {
	if q == nil {
		return nil, ErrQueueRequired
	}
	if runner == nil {
		return nil, ErrRunnerRequired
	}
	p := &Pool{
		queue:        q,
		runner:       runner,
		size:         DefaultConcurrency,
		prefix:       DefaultConsumerPrefix,
		errorBackoff: defaultErrorBackoff,
		inFlight:     func() func() { return func() {} },
		logger:       slog.Default().With("component", "worker"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Size returns the number of worker loops.
func (p *Pool) Size() int {
	return p.size
}

// Run starts the workers and blocks until ctx is done and every in-flight
// task has finished.
func (p *Pool) Run(ctx context.Context) error {
	pool, err := ants.NewPool(p.size, ants.WithPanicHandler(func(r any) {
		p.logger.Error("worker loop panicked", "panic", r, "stack", string(debug.Stack()))
	}))
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range p.size {
		consumer := p.queue.Consumer(fmt.Sprintf("%s-%d", p.prefix, i))
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			p.loop(ctx, consumer)
		}); err != nil {
			wg.Done()
			return fmt.Errorf("start worker %d: %w", i, err)
		}
	}
	p.logger.Info("workers started", "count", p.size, "queue", p.queue.Name())

	wg.Wait()
	p.logger.Info("workers stopped")
	return nil
}

func (p *Pool) loop(ctx context.Context, c *queue.Consumer) {
	logger := p.logger.With("consumer", c.Name())
	if _, err := c.Recover(ctx); err != nil {
		logger.Error("recovering in-flight tasks failed", "err", err)
	}

	for ctx.Err() == nil {
		d, err := c.Receive(ctx)
		switch {
		case err == nil:
			p.handle(ctx, c, d, logger)
		case errors.Is(err, queue.ErrNoTask):
		case errors.Is(err, queue.ErrMalformedTask):
			logger.Warn("dropped malformed task", "err", err)
		case ctx.Err() != nil:
			return
		default:
			logger.Error("receive failed", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(p.errorBackoff):
			}
		}
	}
}

// handle runs a task detached from ctx so shutdown drains it instead of
// cancelling it.
func (p *Pool) handle(ctx context.Context, c *queue.Consumer, d *queue.Delivery, logger *slog.Logger) {
	taskCtx := context.WithoutCancel(ctx)
	logger = logger.With("task_id", d.Task.TaskID, "bot_id", d.Task.BotID)
	done := p.inFlight()
	defer done()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			if err := c.Nack(taskCtx, d, fmt.Sprintf("panic: %v", r)); err != nil {
				logger.Error("nack failed", "err", err)
			}
		}
	}()

	result, err := p.runner.Run(taskCtx, d.Task)
	if result == nil {
		reason := "no result"
		if err != nil {
			reason = err.Error()
		}
		if nackErr := c.Nack(taskCtx, d, reason); nackErr != nil {
			logger.Error("nack failed", "err", nackErr)
		}
		return
	}
	if err := c.Ack(taskCtx, d); err != nil {
		logger.Error("ack failed", "err", err)
		return
	}
	logger.Debug("task acknowledged", "status", result.Status)
}
