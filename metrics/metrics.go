// Package metrics exposes Prometheus instrumentation for the chat pipeline.
//
// A Metrics value owns its collectors and registers them with the
// Registerer it was built with, so tests can use a private registry.
// Its methods match the hook signatures of the components they observe.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/graph"
	"github.com/poiesic/ragchat/notify"
)

const namespace = "ragchat"

// Metrics holds the pipeline collectors.
type Metrics struct {
	// TasksTotal counts terminal tasks.
	// Labels: status (completed, failed, cancelled)
	TasksTotal *prometheus.CounterVec

	// TaskFailuresTotal counts failed or cancelled tasks by error class.
	// Labels: kind (configuration, rate_limit, keys_exhausted, timeout, cancelled, internal)
	TaskFailuresTotal *prometheus.CounterVec

	// TaskDurationSeconds measures end-to-end task latency.
	// Labels: status
	TaskDurationSeconds *prometheus.HistogramVec

	// NodeDurationSeconds measures graph node latency.
	// Labels: node, outcome (ok, error)
	NodeDurationSeconds *prometheus.HistogramVec

	// TokensTotal counts provider tokens.
	// Labels: direction (input, output), model
	TokensTotal *prometheus.CounterVec

	// CostTotal accumulates provider cost in USD.
	CostTotal prometheus.Counter

	// RateLimitsTotal counts provider rate-limit rejections.
	RateLimitsTotal prometheus.Counter

	// RerankFallbacksTotal counts degraded reranks.
	// Labels: reason (timeout, cancelled, error)
	RerankFallbacksTotal *prometheus.CounterVec

	// WebhookAttemptsTotal counts completion webhook attempts.
	// Labels: outcome (delivered, rejected, server_error, timeout, transport)
	WebhookAttemptsTotal *prometheus.CounterVec

	// QueueRejectionsTotal counts enqueue attempts refused at the queue bound.
	QueueRejectionsTotal prometheus.Counter

	// TasksInFlight tracks tasks currently being processed.
	TasksInFlight prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates and registers the collectors with reg.
// A nil reg uses a fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		TasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "total",
			Help:      "Terminal chat tasks by status",
		}, []string{"status"}),
		TaskFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "failures_total",
			Help:      "Failed or cancelled chat tasks by error class",
		}, []string{"kind"}),
		TaskDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "End-to-end chat task latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"status"}),
		NodeDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "node_duration_seconds",
			Help:      "Answer graph node latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"node", "outcome"}),
		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "tokens_total",
			Help:      "Provider tokens by direction and model",
		}, []string{"direction", "model"}),
		CostTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "cost_usd_total",
			Help:      "Accumulated provider cost in USD",
		}),
		RateLimitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "rate_limits_total",
			Help:      "Provider calls rejected for rate limiting",
		}),
		RerankFallbacksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rerank",
			Name:      "fallbacks_total",
			Help:      "Reranks degraded to retrieval order",
		}, []string{"reason"}),
		WebhookAttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "attempts_total",
			Help:      "Completion webhook attempts by outcome",
		}, []string{"outcome"}),
		QueueRejectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "rejections_total",
			Help:      "Enqueue attempts refused because the queue was full",
		}),
		TasksInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "in_flight",
			Help:      "Chat tasks currently being processed",
		}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveResult records a terminal task.
func (m *Metrics) ObserveResult(result *core.TaskResult) {
	status := string(result.Status)
	m.TasksTotal.WithLabelValues(status).Inc()
	if result.ErrorKind != "" {
		m.TaskFailuresTotal.WithLabelValues(string(result.ErrorKind)).Inc()
	}
	if total, ok := result.LatencyBreakdown["total"]; ok {
		m.TaskDurationSeconds.WithLabelValues(status).Observe(total)
	}
	if result.TokensInput > 0 || result.TokensOutput > 0 {
		model := result.Model
		if model == "" {
			model = "unknown"
		}
		m.TokensTotal.WithLabelValues("input", model).Add(float64(result.TokensInput))
		m.TokensTotal.WithLabelValues("output", model).Add(float64(result.TokensOutput))
	}
	if result.Cost > 0 {
		m.CostTotal.Add(result.Cost)
	}
}

// RateLimited records a rate-limited provider call.
// It matches providers.RateLimitFunc.
func (m *Metrics) RateLimited(_ string, _ int) {
	m.RateLimitsTotal.Inc()
}

// RerankFallback records a degraded rerank.
// It matches rerank.FallbackFunc.
func (m *Metrics) RerankFallback(reason error) {
	label := "error"
	switch {
	case errors.Is(reason, core.ErrTimeout):
		label = "timeout"
	case errors.Is(reason, context.Canceled), errors.Is(reason, context.DeadlineExceeded):
		label = "cancelled"
	}
	m.RerankFallbacksTotal.WithLabelValues(label).Inc()
}

// WebhookAttempt records a delivery attempt.
// It matches notify.AttemptFunc.
func (m *Metrics) WebhookAttempt(_ int, err error) {
	outcome := "delivered"
	switch {
	case err == nil:
	case errors.Is(err, notify.ErrRejected):
		outcome = "rejected"
	case errors.Is(err, notify.ErrServerError):
		outcome = "server_error"
	case errors.Is(err, core.ErrTimeout):
		outcome = "timeout"
	default:
		outcome = "transport"
	}
	m.WebhookAttemptsTotal.WithLabelValues(outcome).Inc()
}

// QueueRejected records an enqueue refused at the queue bound.
func (m *Metrics) QueueRejected() {
	m.QueueRejectionsTotal.Inc()
}

// TaskStarted marks a task in flight. Call the returned func when it ends.
func (m *Metrics) TaskStarted() (done func()) {
	m.TasksInFlight.Inc()
	return m.TasksInFlight.Dec
}

// NodeHooks returns graph hooks recording node latency.
func NodeHooks[S any](m *Metrics) graph.Hooks[S] {
	return &nodeHooks[S]{m: m}
}

type nodeHooks[S any] struct {
	m *Metrics
}

func (h *nodeHooks[S]) NodeStarted(context.Context, string, S) {}

func (h *nodeHooks[S]) NodeFinished(_ context.Context, node string, _ S, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.m.NodeDurationSeconds.WithLabelValues(node, outcome).Observe(elapsed.Seconds())
}

