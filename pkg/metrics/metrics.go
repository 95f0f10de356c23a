// Package metrics exposes Prometheus instrumentation for the orchestrator:
// job outcomes, queue gauges, event drops, LLM token usage, and tool
// executions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all collectors. One instance per process, registered on a
// single registry.
type Metrics struct {
	jobsTotal      *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	runningJobs    prometheus.Gauge
	eventsDropped  prometheus.Counter
	tokensTotal    *prometheus.CounterVec
	toolExecutions *prometheus.CounterVec
}

// New creates and registers all collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sonde_jobs_total",
			Help: "Jobs finished, by terminal status.",
		}, []string{"status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sonde_queue_depth",
			Help: "Jobs currently pending.",
		}),
		runningJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sonde_running_jobs",
			Help: "Jobs currently running.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sonde_events_dropped_total",
			Help: "Stream events dropped for slow subscribers.",
		}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sonde_llm_tokens_total",
			Help: "LLM tokens consumed by completed jobs, by direction.",
		}, []string{"direction"}),
		toolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sonde_tool_executions_total",
			Help: "Tool executions, by tool name and outcome.",
		}, []string{"tool", "outcome"}),
	}
	reg.MustRegister(
		m.jobsTotal,
		m.queueDepth,
		m.runningJobs,
		m.eventsDropped,
		m.tokensTotal,
		m.toolExecutions,
	)
	return m
}

// JobFinished counts one terminal transition.
func (m *Metrics) JobFinished(status string) {
	m.jobsTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth updates the pending gauge.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// SetRunningJobs updates the running gauge.
func (m *Metrics) SetRunningJobs(n int) {
	m.runningJobs.Set(float64(n))
}

// EventDropped counts one dropped stream event.
func (m *Metrics) EventDropped() {
	m.eventsDropped.Inc()
}

// AddTokens records token usage of a completed job.
func (m *Metrics) AddTokens(input, output int) {
	m.tokensTotal.WithLabelValues("input").Add(float64(input))
	m.tokensTotal.WithLabelValues("output").Add(float64(output))
}

// ToolExecuted counts one tool execution.
func (m *Metrics) ToolExecuted(tool string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.toolExecutions.WithLabelValues(tool, outcome).Inc()
}
