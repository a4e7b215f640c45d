// Package observability exposes the runtime's Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter the runtime maintains. One instance lives
// for the process; construct with a dedicated registry in tests.
type Metrics struct {
	Registry *prometheus.Registry

	CommandsTotal      *prometheus.CounterVec
	CommandDuration    prometheus.Histogram
	ToolInvocations    *prometheus.CounterVec
	ToolDuration       *prometheus.HistogramVec
	ConfirmationsTotal *prometheus.CounterVec
	PlannerFailures    prometheus.Counter
}

// New creates and registers the metric set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nestor_commands_total",
			Help: "Inbound commands by terminal run status.",
		}, []string{"status"}),
		CommandDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nestor_command_duration_seconds",
			Help:    "End-to-end command handling time.",
			Buckets: prometheus.DefBuckets,
		}),
		ToolInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nestor_tool_invocations_total",
			Help: "Tool invocations by tool name and observation status.",
		}, []string{"tool", "status"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nestor_tool_duration_seconds",
			Help:    "Tool handler execution time by tool name.",
			Buckets: []float64{.005, .025, .1, .5, 1, 5, 15, 30},
		}, []string{"tool"}),
		ConfirmationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nestor_confirmations_total",
			Help: "Confirmation requests by terminal outcome.",
		}, []string{"outcome"}),
		PlannerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "nestor_planner_failures_total",
			Help: "Planner calls that returned an error or unparseable output.",
		}),
	}
}

// ObserveTool records one tool invocation outcome.
func (m *Metrics) ObserveTool(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolInvocations.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveCommand records one dispatcher run.
func (m *Metrics) ObserveCommand(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(status).Inc()
	m.CommandDuration.Observe(d.Seconds())
}

// ObserveConfirmation records a broker outcome.
func (m *Metrics) ObserveConfirmation(outcome string) {
	if m == nil {
		return
	}
	m.ConfirmationsTotal.WithLabelValues(outcome).Inc()
}
