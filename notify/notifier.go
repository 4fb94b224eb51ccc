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

// Package notify delivers terminal task results to the system of record
// as HMAC-SHA256 signed JSON webhooks.
//
// Receivers verify the SignatureHeader against the raw request body with
// Verify or VerifyRequest. A result may be delivered more than once when a
// task is redelivered after a crash; IdempotencyHeader carries the task ID.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/retry"
)

const (
	// SignatureHeader carries "sha256=<hex hmac of body>".
	SignatureHeader = "X-Ragchat-Signature"

	// IdempotencyHeader carries the task ID.
	IdempotencyHeader = "Idempotency-Key"

	// AttemptHeader carries the 1-based delivery attempt.
	AttemptHeader = "X-Ragchat-Attempt"

	signaturePrefix = "sha256="

	// DefaultTimeout bounds a single delivery attempt.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxAttempts is the number of delivery attempts per result.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the backoff before the second attempt.
	DefaultBaseDelay = 500 * time.Millisecond
)

// Config configures webhook delivery.
type Config struct {
	URL         string        `yaml:"url" validate:"omitempty,url"`
	Secret      string        `yaml:"secret"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=0"`
	BaseDelay   time.Duration `yaml:"base_delay" validate:"gte=0"`
}

// DefaultConfig returns the delivery defaults without an endpoint.
func DefaultConfig() Config {
	return Config{
		Timeout:     DefaultTimeout,
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// AttemptFunc observes every delivery attempt. status is 0 when no
// response was received.
type AttemptFunc func(status int, err error)

// Notifier posts signed results to one endpoint.
type Notifier struct {
	config    Config
	client    *http.Client
	logger    *slog.Logger
	onAttempt AttemptFunc
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) {
		if client != nil {
			n.client = client
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithAttemptHook registers fn to observe delivery attempts.
func WithAttemptHook(fn AttemptFunc) Option {
	return func(n *Notifier) {
		n.onAttempt = fn
	}
}

// New creates a Notifier. Zero timeout, attempts and delay take the defaults.
func New(config Config, opts ...Option) (*Notifier, error) {
	if config.URL == "" {
		return nil, ErrURLRequired
	}
	if config.Secret == "" {
		return nil, ErrSecretRequired
	}
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaults.BaseDelay
	}

	n := &Notifier{
		config: config,
		client: &http.Client{},
		logger: slog.Default().With("component", "notify"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body, in constant time.
func Verify(secret, body []byte, signature string) bool {
	got, ok := strings.CutPrefix(signature, signaturePrefix)
	if !ok {
		return false
	}
	gotMAC, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(gotMAC, mac.Sum(nil))
}

// VerifyRequest reads and verifies a webhook request body.
func VerifyRequest(r *http.Request, secret []byte) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read webhook body: %w", err)
	}
	if !Verify(secret, body, r.Header.Get(SignatureHeader)) {
		return nil, ErrInvalidSignature
	}
	return body, nil
}

// Notify delivers result. It retries timeouts, transport failures and 5xx
// responses with exponential backoff; a 4xx response ends delivery at once.
// A nil error means the endpoint accepted the result.
func (n *Notifier) Notify(ctx context.Context, result *core.TaskResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	signature := Sign([]byte(n.config.Secret), body)

	attempt := 0
	err = retry.RetryWithBackoff(ctx, func() error {
		attempt++
		status, err := n.deliver(ctx, body, signature, result.TaskID, attempt)
		if n.onAttempt != nil {
			n.onAttempt(status, err)
		}
		return err
	}, n.config.MaxAttempts, n.config.BaseDelay)
	if err != nil {
		n.logger.Error("webhook delivery failed",
			"task_id", result.TaskID,
			"status", result.Status,
			"attempts", attempt,
			"err", err)
		return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, attempt, err)
	}
	n.logger.Debug("webhook delivered", "task_id", result.TaskID, "attempts", attempt)
	return nil
}

func (n *Notifier) deliver(ctx context.Context, body []byte, signature, taskID string, attempt int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, n.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(body))
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set(IdempotencyHeader, taskID)
	req.Header.Set(AttemptHeader, fmt.Sprint(attempt))

	resp, err := n.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", core.ErrTimeout, err)
		}
		n.logger.Warn("webhook attempt failed", "task_id", taskID, "attempt", attempt, "err", err)
		return 0, err
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, nil
	case resp.StatusCode >= 500:
		n.logger.Warn("webhook attempt failed", "task_id", taskID, "attempt", attempt, "status", resp.StatusCode)
		return resp.StatusCode, fmt.Errorf("%w: status %d", ErrServerError, resp.StatusCode)
	default:
		return resp.StatusCode, retry.Permanent(fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(snippet)))
	}
}
