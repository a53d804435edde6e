// Package metrics collects Prometheus metrics for the planner runtime:
// run outcomes, step mix, LLM spend, tool and sandbox latencies,
// observation compression and the HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the runtime records into. All methods
// are nil-safe so components without a metrics handle stay quiet.
type Metrics struct {
	// RunCounter counts finished runs.
	// Labels: status (completed|failed), error_code ("" when none)
	RunCounter *prometheus.CounterVec

	// RunDuration measures wall-clock run time in seconds.
	// Labels: status
	RunDuration *prometheus.HistogramVec

	// ActiveRuns is a gauge of currently executing runs.
	ActiveRuns prometheus.Gauge

	// QueuedRuns is a gauge of runs waiting for a worker slot.
	QueuedRuns prometheus.Gauge

	// StepCounter counts executed steps.
	// Labels: type (search|tool|sandbox|finish|fail), status (success|error)
	StepCounter *prometheus.CounterVec

	// LLMRequestCounter counts planner LLM calls.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures planner LLM call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD accumulates estimated LLM spend in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ToolInvocationCounter counts dispatcher invocations.
	// Labels: provider, tool, status (success|error)
	ToolInvocationCounter *prometheus.CounterVec

	// ToolInvocationDuration measures dispatcher latency in seconds.
	// Labels: provider
	ToolInvocationDuration *prometheus.HistogramVec

	// SandboxRunCounter counts sandbox executions.
	// Labels: status (success|error|timeout)
	SandboxRunCounter *prometheus.CounterVec

	// SandboxRunDuration measures sandbox wall time in seconds.
	SandboxRunDuration prometheus.Histogram

	// ObservationBytes accumulates observation sizes before and after
	// envelope bounding.
	// Labels: stage (original|compressed), type (step type)
	ObservationBytes *prometheus.CounterVec

	// RawOutputsStored counts envelope spills to raw output storage.
	// Labels: type (step type)
	RawOutputsStored *prometheus.CounterVec

	// BudgetExceededCounter counts runs ended by a budget axis.
	// Labels: axis
	BudgetExceededCounter *prometheus.CounterVec

	// IndexBuildCounter counts tool index builds.
	// Labels: cache (hit|miss)
	IndexBuildCounter *prometheus.CounterVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP request latency in seconds.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors against reg. Call once at
// startup with prometheus.DefaultRegisterer; tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_runs_total",
				Help: "Total number of finished runs by status and error code",
			},
			[]string{"status", "error_code"},
		),

		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planner_run_duration_seconds",
				Help:    "Wall-clock duration of runs in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),

		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "planner_active_runs",
				Help: "Current number of executing runs",
			},
		),

		QueuedRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "planner_queued_runs",
				Help: "Current number of runs waiting for a worker slot",
			},
		),

		StepCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_steps_total",
				Help: "Total number of executed steps by type and status",
			},
			[]string{"type", "status"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_llm_requests_total",
				Help: "Total number of planner LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planner_llm_request_duration_seconds",
				Help:    "Duration of planner LLM requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCostUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_llm_cost_usd_total",
				Help: "Estimated LLM spend in USD by provider and model",
			},
			[]string{"provider", "model"},
		),

		ToolInvocationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_tool_invocations_total",
				Help: "Total number of tool invocations by provider, tool, and status",
			},
			[]string{"provider", "tool", "status"},
		),

		ToolInvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planner_tool_invocation_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"provider"},
		),

		SandboxRunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_sandbox_runs_total",
				Help: "Total number of sandbox executions by status",
			},
			[]string{"status"},
		),

		SandboxRunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "planner_sandbox_run_duration_seconds",
				Help:    "Wall-clock duration of sandbox executions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),

		ObservationBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_observation_bytes_total",
				Help: "Observation bytes before and after envelope bounding",
			},
			[]string{"stage", "type"},
		),

		RawOutputsStored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_raw_outputs_stored_total",
				Help: "Total number of observations spilled to raw output storage",
			},
			[]string{"type"},
		),

		BudgetExceededCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_budget_exceeded_total",
				Help: "Total number of runs ended by a budget axis",
			},
			[]string{"axis"},
		),

		IndexBuildCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_tool_index_builds_total",
				Help: "Total number of tool index builds by cache outcome",
			},
			[]string{"cache"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planner_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RunStarted bumps the active-runs gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished records a finished run and drops the active-runs gauge.
func (m *Metrics) RunFinished(status, errorCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunCounter.WithLabelValues(status, errorCode).Inc()
	m.RunDuration.WithLabelValues(status).Observe(durationSeconds)
}

// SetQueuedRuns updates the queued-runs gauge.
func (m *Metrics) SetQueuedRuns(n int) {
	if m == nil {
		return
	}
	m.QueuedRuns.Set(float64(n))
}

// RecordStep counts one executed step.
func (m *Metrics) RecordStep(stepType string, success bool) {
	if m == nil {
		return
	}
	m.StepCounter.WithLabelValues(stepType, statusLabel(success)).Inc()
}

// RecordLLMRequest records one planner LLM call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int, costUSD float64) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
	if costUSD > 0 {
		m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
	}
}

// RecordToolInvocation records one dispatcher invocation.
func (m *Metrics) RecordToolInvocation(provider, tool string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolInvocationCounter.WithLabelValues(provider, tool, statusLabel(success)).Inc()
	m.ToolInvocationDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordSandboxRun records one sandbox execution. status is one of
// success, error, timeout.
func (m *Metrics) RecordSandboxRun(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SandboxRunCounter.WithLabelValues(status).Inc()
	m.SandboxRunDuration.Observe(durationSeconds)
}

// RecordObservation records envelope byte accounting for one step.
func (m *Metrics) RecordObservation(stepType string, originalBytes, compressedBytes int, stored bool) {
	if m == nil {
		return
	}
	m.ObservationBytes.WithLabelValues("original", stepType).Add(float64(originalBytes))
	m.ObservationBytes.WithLabelValues("compressed", stepType).Add(float64(compressedBytes))
	if stored {
		m.RawOutputsStored.WithLabelValues(stepType).Inc()
	}
}

// RecordBudgetExceeded counts a run ended by the given axis.
func (m *Metrics) RecordBudgetExceeded(axis string) {
	if m == nil {
		return
	}
	m.BudgetExceededCounter.WithLabelValues(axis).Inc()
}

// RecordIndexBuild counts a tool index build. cache is "hit" or "miss".
func (m *Metrics) RecordIndexBuild(cache string) {
	if m == nil {
		return
	}
	m.IndexBuildCounter.WithLabelValues(cache).Inc()
}

// RecordHTTPRequest records one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
