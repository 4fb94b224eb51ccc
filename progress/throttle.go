package progress

import (
	"sync"
	"time"
)

// Default throttle settings.
const (
	DefaultMinDelta    = 5
	DefaultMinInterval = 500 * time.Millisecond
)

type taskState struct {
	lastProgress    int
	lastPublishedAt time.Time
}

// Throttle decides which progress updates are worth emitting.
// An update passes when forced, when progress moved by at least minDelta
// since the last emitted update, or when minInterval has elapsed since then.
// The first update of a task always passes.
type Throttle struct {
	minDelta    int
	minInterval time.Duration
	now         func() time.Time

	mu    sync.Mutex
	tasks map[string]*taskState
}

// NewThrottle creates a throttle. Non-positive arguments select the defaults.
func NewThrottle(minDelta int, minInterval time.Duration, now func() time.Time) *Throttle {
	if minDelta <= 0 {
		minDelta = DefaultMinDelta
	}
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Throttle{
		minDelta:    minDelta,
		minInterval: minInterval,
		now:         now,
		tasks:       make(map[string]*taskState),
	}
}

// Allow reports whether an update should be emitted. It does not change
// any state; call Record once the update has actually been emitted.
func (t *Throttle) Allow(taskID string, progress int, force bool) bool {
	if force {
		return true
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	state, seen := t.tasks[taskID]
	if !seen {
		return true
	}
	delta := progress - state.lastProgress
	if delta < 0 {
		delta = -delta
	}
	return delta >= t.minDelta || now.Sub(state.lastPublishedAt) >= t.minInterval
}

// Record makes progress the baseline for later updates of taskID.
func (t *Throttle) Record(taskID string, progress int) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	state, seen := t.tasks[taskID]
	if !seen {
		state = &taskState{}
		t.tasks[taskID] = state
	}
	state.lastProgress = progress
	state.lastPublishedAt = now
}

// Forget drops the state of a finished task.
func (t *Throttle) Forget(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, taskID)
}

// Tracked returns the number of tasks with throttle state.
func (t *Throttle) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}
