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


package core

import (
	"context"
	"errors"
	"fmt"
)

// Domain validation errors
var (
	// ErrInvalidTask indicates a ChatTask failed validation.
	ErrInvalidTask = errors.New("invalid chat task")

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidProgress indicates a progress value outside 0-100.
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")

	// ErrEmptyContent indicates a required text field is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrMissingIdentifier indicates a required identifier is empty.
	ErrMissingIdentifier = errors.New("identifier cannot be empty")

	// ErrInvalidRole indicates an unknown conversation role.
	ErrInvalidRole = errors.New("invalid message role")
)

// Processing errors. Each maps to one class of the failure taxonomy.
var (
	// ErrConfiguration indicates a missing or invalid tenant provider config.
	// Tasks failing with it are never retried.
	ErrConfiguration = errors.New("provider configuration error")

	// ErrRateLimited indicates the provider rejected a call for rate limiting.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrAllKeysExhausted indicates every tenant key is cooling down.
	ErrAllKeysExhausted = errors.New("all provider keys exhausted")

	// ErrTimeout indicates an external call exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled indicates the session asked for the task to stop.
	ErrCancelled = errors.New("task cancelled")

	// ErrQueueFull indicates the task queue rejected an enqueue at its bound.
	ErrQueueFull = errors.New("task queue full")
)

// ErrorKind is a coarse error class used for metrics and progress messages.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindRateLimit     ErrorKind = "rate_limit"
	KindKeysExhausted ErrorKind = "keys_exhausted"
	KindTimeout       ErrorKind = "timeout"
	KindCancelled     ErrorKind = "cancelled"
	KindInternal      ErrorKind = "internal"
)

// Classify maps an error onto the failure taxonomy.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrAllKeysExhausted):
		return KindKeysExhausted
	case errors.Is(err, ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInternal
	}
}

// TaskError records the pipeline stage where a task failed.
type TaskError struct {
	Stage string
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Kind returns the taxonomy class of the wrapped error.
func (e *TaskError) Kind() ErrorKind {
	return Classify(e.Err)
}
