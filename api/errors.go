package api

import "errors"

var (
	// ErrQueueRequired is returned when no task queue is provided.
	ErrQueueRequired = errors.New("task queue required")

	// ErrProgressRequired is returned when no progress source is provided.
	ErrProgressRequired = errors.New("progress source required")

	// ErrCancellerRequired is returned when no cancel signal is provided.
	ErrCancellerRequired = errors.New("cancel signal required")
)
