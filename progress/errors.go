package progress

import "errors"

var (
	// ErrNoSnapshot is returned when a task has no persisted progress.
	ErrNoSnapshot = errors.New("no progress snapshot")

	// ErrMissingTaskID is returned when publishing without a task id.
	ErrMissingTaskID = errors.New("task id required")
)
