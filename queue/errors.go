package queue

import "errors"

var (
	// ErrNoTask is returned when Receive times out on an empty queue.
	ErrNoTask = errors.New("no task available")

	// ErrMalformedTask is returned for payloads that do not decode to a valid task.
	// Such payloads are moved to the dead-letter list.
	ErrMalformedTask = errors.New("malformed task payload")
)
