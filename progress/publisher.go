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

// Package progress publishes throttled task progress over Redis pub/sub.
//
// Every emitted event goes to the task's channel and is stored as the
// task's snapshot so late subscribers can resume from the last known state.
// Terminal events are always emitted and remove the snapshot.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/poiesic/ragchat/core"
)

// DefaultSnapshotTTL bounds how long an abandoned snapshot survives.
const DefaultSnapshotTTL = time.Hour

// Config tunes the publisher.
type Config struct {
	Prefix      string        `yaml:"prefix"`
	MinDelta    int           `yaml:"min_delta" validate:"gte=0,lte=100"`
	MinInterval time.Duration `yaml:"min_interval" validate:"gte=0"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" validate:"gte=0"`
}

// Publisher emits progress events for tasks.
type Publisher struct {
	client   redis.UniversalClient
	config   Config
	throttle *Throttle
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithClock replaces time.Now for throttling and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher creates a publisher on client.
func NewPublisher(client redis.UniversalClient, config Config, opts ...Option) *Publisher {
	if config.SnapshotTTL <= 0 {
		config.SnapshotTTL = DefaultSnapshotTTL
	}
	p := &Publisher{
		client: client,
		config: config,
		now:    time.Now,
		logger: slog.Default().With("component", "progress"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.throttle = NewThrottle(config.MinDelta, config.MinInterval, p.now)
	return p
}

// Channel returns the pub/sub channel of a task.
func (p *Publisher) Channel(taskID string) string {
	return ChannelName(p.config.Prefix, taskID)
}

// ChannelName derives the progress channel of a task.
func ChannelName(prefix, taskID string) string {
	return prefix + "chat:progress:" + taskID
}

// SnapshotKey derives the snapshot key of a task.
func SnapshotKey(prefix, taskID string) string {
	return prefix + "chat:progress:snapshot:" + taskID
}

// Publish emits a progress event unless the throttle suppresses it.
// Terminal statuses are always emitted and clear the snapshot afterwards.
// It reports whether the event was emitted.
func (p *Publisher) Publish(ctx context.Context, taskID string, progress int, status core.TaskStatus, message string, force bool) (bool, error) {
	if taskID == "" {
		return false, ErrMissingTaskID
	}
	if err := core.ValidateProgress(progress); err != nil {
		return false, err
	}

	terminal := status.IsTerminal()
	if !p.throttle.Allow(taskID, progress, force || terminal) {
		return false, nil
	}

	err := p.emit(ctx, core.ProgressEvent{
		TaskID:    taskID,
		Progress:  progress,
		Status:    status,
		Message:   message,
		Timestamp: p.now().UTC(),
	})
	if terminal {
		p.throttle.Forget(taskID)
	}
	if err != nil {
		p.logger.Error("progress publish failed", "task_id", taskID, "progress", progress, "err", err)
		return false, err
	}
	if !terminal {
		p.throttle.Record(taskID, progress)
	}
	p.logger.Debug("progress", "task_id", taskID, "progress", progress, "status", status)
	return true, nil
}

// MarkPending stores a pending snapshot for a task that was just admitted,
// so watchers can tell a queued task from an unknown or finished one.
// It bypasses the throttle; the worker's first update starts the sequence.
func (p *Publisher) MarkPending(ctx context.Context, taskID string) error {
	if taskID == "" {
		return ErrMissingTaskID
	}
	err := p.emit(ctx, core.ProgressEvent{
		TaskID:    taskID,
		Status:    core.StatusPending,
		Message:   "Queued",
		Timestamp: p.now().UTC(),
	})
	if err != nil {
		p.logger.Error("pending snapshot failed", "task_id", taskID, "err", err)
	}
	return err
}

func (p *Publisher) emit(ctx context.Context, event core.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	channel := p.Channel(event.TaskID)
	snapshot := SnapshotKey(p.config.Prefix, event.TaskID)
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if event.Status.IsTerminal() {
			pipe.Publish(ctx, channel, payload)
			pipe.Del(ctx, snapshot)
			return nil
		}
		pipe.Set(ctx, snapshot, payload, p.config.SnapshotTTL)
		pipe.Publish(ctx, channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish progress: %w", err)
	}
	return nil
}

// Snapshot returns the last persisted event of a running task.
func (p *Publisher) Snapshot(ctx context.Context, taskID string) (*core.ProgressEvent, error) {
	return ReadSnapshot(ctx, p.client, p.config.Prefix, taskID)
}

// Watch streams the progress of taskID. See the package-level Watch.
func (p *Publisher) Watch(ctx context.Context, taskID string) (<-chan core.ProgressEvent, error) {
	return Watch(ctx, p.client, p.config.Prefix, taskID)
}

// ReadSnapshot reads a task snapshot without a Publisher.
func ReadSnapshot(ctx context.Context, client redis.UniversalClient, prefix, taskID string) (*core.ProgressEvent, error) {
	raw, err := client.Get(ctx, SnapshotKey(prefix, taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	var event core.ProgressEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &event, nil
}

// Watch streams a task's progress: the snapshot first, then live events.
// The channel closes after a terminal event or when ctx ends. A task with no
// snapshot is unknown or already finished, and Watch returns ErrNoSnapshot.
// The subscription is established before the snapshot is read so no event
// falls between the two.
func Watch(ctx context.Context, client redis.UniversalClient, prefix, taskID string) (<-chan core.ProgressEvent, error) {
	sub := client.Subscribe(ctx, ChannelName(prefix, taskID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe progress: %w", err)
	}

	snapshot, err := ReadSnapshot(ctx, client, prefix, taskID)
	if err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan core.ProgressEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		send := func(ev core.ProgressEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(*snapshot) || snapshot.Status.IsTerminal() {
			return
		}

		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var ev core.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				if ev == *snapshot {
					continue
				}
				if !send(ev) || ev.Status.IsTerminal() {
					return
				}
			}
		}
	}()
	return out, nil
}
