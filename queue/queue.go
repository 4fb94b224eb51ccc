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

// Package queue is a durable, length-bounded chat task queue on Redis lists.
//
// Producers are rejected with core.ErrQueueFull once the queue holds
// MaxLength tasks. Each consumer atomically moves a task into its own
// processing list when receiving it. The task stays there until it is
// acknowledged, or negatively acknowledged into the dead-letter list. A
// consumer restarted after a crash calls Recover to put its in-flight tasks
// back on the queue, so handlers must tolerate re-execution.
package queue

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

// DefaultName is the queue list key.
const DefaultName = "chat:tasks"

// enqueueScript pushes ARGV[2] unless the list already holds ARGV[1] items.
// A bound of 0 disables the check.
var enqueueScript = redis.NewScript(`
local bound = tonumber(ARGV[1])
if bound > 0 and redis.call('LLEN', KEYS[1]) >= bound then
  return -1
end
return redis.call('LPUSH', KEYS[1], ARGV[2])
`)

// Config describes a queue.
type Config struct {
	Name           string        `yaml:"name" validate:"required"`
	MaxLength      int           `yaml:"max_length" validate:"gte=0"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout" validate:"gte=0"`
}

// DefaultConfig returns a queue bounded at 1000 tasks.
func DefaultConfig() Config {
	return Config{
		Name:           DefaultName,
		MaxLength:      1000,
		ReceiveTimeout: 5 * time.Second,
	}
}

// Queue is the producer side.
type Queue struct {
	client redis.UniversalClient
	config Config
	logger *slog.Logger
}

// New creates a queue handle.
func New(client redis.UniversalClient, config Config, logger *slog.Logger) *Queue {
	if config.Name == "" {
		config.Name = DefaultName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		client: client,
		config: config,
		logger: logger.With("component", "queue", "queue", config.Name),
	}
}

// Name returns the list key of the queue.
func (q *Queue) Name() string {
	return q.config.Name
}

// DeadLetterName returns the list key holding rejected tasks.
func (q *Queue) DeadLetterName() string {
	return q.config.Name + ":dead"
}

func (q *Queue) processingName(consumer string) string {
	return q.config.Name + ":processing:" + consumer
}

// Publish enqueues task, failing with core.ErrQueueFull at the bound.
func (q *Queue) Publish(ctx context.Context, task *core.ChatTask) error {
	if err := core.ValidateChatTask(task); err != nil {
		return err
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	n, err := enqueueScript.Run(ctx, q.client, []string{q.config.Name}, q.config.MaxLength, payload).Int()
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.TaskID, err)
	}
	if n < 0 {
		q.logger.Warn("queue full, task rejected", "task_id", task.TaskID, "max_length", q.config.MaxLength)
		return fmt.Errorf("%w: %d tasks waiting", core.ErrQueueFull, q.config.MaxLength)
	}
	q.logger.Debug("task enqueued", "task_id", task.TaskID, "depth", n)
	return nil
}

// Len returns the number of waiting tasks.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.config.Name).Result()
}

// DeadLetters returns the dead-lettered entries, newest first.
func (q *Queue) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	raw, err := q.client.LRange(ctx, q.DeadLetterName(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, r := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(r), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

// Consumer returns the consumer side for a named worker.
// Names must be stable across restarts for Recover to find in-flight tasks.
func (q *Queue) Consumer(name string) *Consumer {
	return &Consumer{
		queue:      q,
		name:       name,
		processing: q.processingName(name),
	}
}

// Delivery is a received task and the raw payload that identifies it in
// the processing list.
type Delivery struct {
	Task *core.ChatTask
	raw  string
}

// DeadLetter is a task that was negatively acknowledged.
type DeadLetter struct {
	Payload  json.RawMessage `json:"payload"`
	Reason   string          `json:"reason"`
	Consumer string          `json:"consumer"`
	FailedAt time.Time       `json:"failed_at"`
}

// Consumer receives tasks for one worker.
type Consumer struct {
	queue      *Queue
	name       string
	processing string
}

// Name returns the consumer name.
func (c *Consumer) Name() string {
	return c.name
}

// Receive blocks for up to the configured receive timeout and returns the
// next task, or ErrNoTask.
func (c *Consumer) Receive(ctx context.Context) (*Delivery, error) {
	timeout := c.queue.config.ReceiveTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	raw, err := c.queue.client.BLMove(ctx, c.queue.config.Name, c.processing, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoTask
	}
	if err != nil {
		return nil, err
	}

	var task core.ChatTask
	err = json.Unmarshal([]byte(raw), &task)
	if err == nil {
		err = core.ValidateChatTask(&task)
	}
	if err != nil {
		d := &Delivery{raw: raw}
		if nackErr := c.Nack(ctx, d, err.Error()); nackErr != nil {
			return nil, nackErr
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	return &Delivery{Task: &task, raw: raw}, nil
}

// Ack removes a finished task from the processing list.
func (c *Consumer) Ack(ctx context.Context, d *Delivery) error {
	return c.queue.client.LRem(ctx, c.processing, 1, d.raw).Err()
}

// Nack moves a task to the dead-letter list without requeueing it.
func (c *Consumer) Nack(ctx context.Context, d *Delivery, reason string) error {
	payload := json.RawMessage(d.raw)
	if !json.Valid(payload) {
		payload, _ = json.Marshal(d.raw)
	}
	entry, err := json.Marshal(DeadLetter{
		Payload:  payload,
		Reason:   reason,
		Consumer: c.name,
		FailedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	_, err = c.queue.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, c.processing, 1, d.raw)
		pipe.LPush(ctx, c.queue.DeadLetterName(), entry)
		return nil
	})
	if err != nil {
		return err
	}
	c.queue.logger.Warn("task dead-lettered", "consumer", c.name, "reason", reason)
	return nil
}

// Recover moves tasks left in this consumer's processing list back to the
// head of the queue. It returns the number of tasks moved.
func (c *Consumer) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := c.queue.client.LMove(ctx, c.processing, c.queue.config.Name, "LEFT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
	if moved > 0 {
		c.queue.logger.Info("recovered in-flight tasks", "consumer", c.name, "count", moved)
	}
	return moved, nil
}
