package reembed

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Progress is a point-in-time view of a run.
type Progress struct {
	Collection string
	Current    int
	Total      int
	Elapsed    time.Duration
	Done       bool
}

// Percent returns completion in [0, 100].
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100.0
}

// Rate returns chunks per second.
func (p Progress) Rate() float64 {
	if p.Elapsed <= 0 {
		return 0
	}
	return float64(p.Current) / p.Elapsed.Seconds()
}

// ReportFunc receives progress reports.
type ReportFunc func(Progress)

// WriterReporter renders reports as a single self-overwriting line on w.
func WriterReporter(w io.Writer) ReportFunc {
	return func(p Progress) {
		fmt.Fprintf(w, "\r%s: %d/%d (%.1f%%) - %.1f chunks/s",
			p.Collection, p.Current, p.Total, p.Percent(), p.Rate())
		if p.Done {
			fmt.Fprintln(w)
		}
	}
}

// LogReporter logs reports at info level.
func LogReporter(logger *slog.Logger) ReportFunc {
	return func(p Progress) {
		logger.Info("reembed progress",
			"collection", p.Collection,
			"current", p.Current,
			"total", p.Total,
			"done", p.Done)
	}
}

// ProgressTracker reports a run's progress every reportInterval chunks.
type ProgressTracker struct {
	report         ReportFunc
	collection     string
	total          int
	current        int
	reportInterval int
	lastReported   int
	startTime      time.Time
	started        bool
	mu             sync.Mutex
}

// NewProgressTracker creates a tracker for total chunks of collection.
func NewProgressTracker(report ReportFunc, collection string, total, reportInterval int) *ProgressTracker {
	if reportInterval < 1 {
		reportInterval = 1
	}
	return &ProgressTracker{
		report:         report,
		collection:     collection,
		total:          total,
		reportInterval: reportInterval,
	}
}

// Start begins tracking progress.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.current = 0
	p.lastReported = 0
}

// Increment advances progress by delta, capped at the total.
func (p *ProgressTracker) Increment(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.current = min(p.current+delta, p.total)
	if p.current-p.lastReported >= p.reportInterval {
		p.emit(false)
		p.lastReported = p.current
	}
}

// Finish emits the final report. Current is left where the run stopped.
func (p *ProgressTracker) Finish() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return Progress{Collection: p.collection, Total: p.total}
	}
	return p.emit(true)
}

// emit must be called with the lock held.
func (p *ProgressTracker) emit(done bool) Progress {
	snapshot := Progress{
		Collection: p.collection,
		Current:    p.current,
		Total:      p.total,
		Elapsed:    time.Since(p.startTime),
		Done:       done,
	}
	if p.report != nil {
		p.report(snapshot)
	}
	return snapshot
}
