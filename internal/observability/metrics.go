// Package observability exposes Prometheus metrics for the gateway: run
// outcomes, tool-call latency, policy admission decisions, and event-bus
// backpressure. Metrics are registered against a caller-supplied registry so
// tests can construct isolated instances instead of sharing the process
// default registry.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter, histogram, and gauge the gateway emits.
type Metrics struct {
	// RunsTotal counts completed runs by terminal status
	// (completed|failed|timeout|cancelled).
	RunsTotal *prometheus.CounterVec

	// RunDuration measures wall-clock run time in seconds.
	RunDuration prometheus.Histogram

	// RunStepsExecuted records how many plan/execute cycles a run took.
	RunStepsExecuted prometheus.Histogram

	// ToolCallsTotal counts tool invocations by tool name and outcome
	// (success|error|timeout|denied).
	ToolCallsTotal *prometheus.CounterVec

	// ToolCallDuration measures tool handler latency in seconds.
	// Labels: tool_name
	ToolCallDuration *prometheus.HistogramVec

	// PolicyBlocksTotal counts admission denials by reason.
	PolicyBlocksTotal *prometheus.CounterVec

	// EventBusDroppedTotal counts events dropped because a subscriber's
	// queue was full.
	EventBusDroppedTotal prometheus.Counter

	// ActiveRuns tracks runs currently in flight.
	ActiveRuns prometheus.Gauge
}

// NewMetrics registers every metric against reg and returns the bundle.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agw_runs_total",
				Help: "Total number of agent runs by terminal status",
			},
			[]string{"status"},
		),

		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agw_run_duration_seconds",
				Help:    "Wall-clock duration of agent runs",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),

		RunStepsExecuted: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agw_run_steps_executed",
				Help:    "Number of plan/execute cycles per run",
				Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
			},
		),

		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agw_tool_calls_total",
				Help: "Total number of tool invocations by tool name and outcome",
			},
			[]string{"tool_name", "outcome"},
		),

		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agw_tool_call_duration_seconds",
				Help:    "Duration of tool handler execution",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),

		PolicyBlocksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agw_policy_blocks_total",
				Help: "Total number of admission denials by reason",
			},
			[]string{"reason"},
		),

		EventBusDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agw_eventbus_dropped_total",
				Help: "Total number of events dropped due to full subscriber queues",
			},
		),

		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agw_active_runs",
				Help: "Current number of in-flight agent runs",
			},
		),
	}
}

// RunStarted records the start of a run.
func (m *Metrics) RunStarted() {
	m.ActiveRuns.Inc()
}

// RunFinished records a run's terminal status, duration, and step count.
func (m *Metrics) RunFinished(status string, duration time.Duration, steps int) {
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(duration.Seconds())
	m.RunStepsExecuted.Observe(float64(steps))
}

// ToolCalled records a single tool invocation.
func (m *Metrics) ToolCalled(toolName, outcome string, duration time.Duration) {
	m.ToolCallsTotal.WithLabelValues(toolName, outcome).Inc()
	m.ToolCallDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

// PolicyBlocked records an admission denial.
func (m *Metrics) PolicyBlocked(reason string) {
	m.PolicyBlocksTotal.WithLabelValues(reason).Inc()
}

// EventDropped records an event dropped from a subscriber's queue.
func (m *Metrics) EventDropped() {
	m.EventBusDroppedTotal.Inc()
}
