// Package metrics exposes Prometheus collectors for the mirror.
//
// A nil *Metrics is valid and records nothing, so components take one
// unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Command results used as the "result" label.
const (
	ResultOK        = "ok"
	ResultFailed    = "failed"
	ResultTimeout   = "timeout"
	ResultCancelled = "cancelled"
	ResultError     = "error"
)

// Metrics bundles the collectors registered on one registry.
type Metrics struct {
	registry        *prometheus.Registry
	commands        *prometheus.CounterVec
	commandDuration prometheus.Histogram
	paneResets      prometheus.Counter
	hookInstalls    *prometheus.CounterVec
	activityReports prometheus.Counter
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panemirror_commands_total",
			Help: "Commands executed in the shared pane, by result.",
		}, []string{"result"}),
		commandDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "panemirror_command_duration_seconds",
			Help:    "Wall time from sending a command to its completion signal.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		paneResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "panemirror_pane_resets_total",
			Help: "Times pane state was discarded after the pane died or misbehaved.",
		}),
		hookInstalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panemirror_hook_installs_total",
			Help: "Shell hook installation attempts, by result.",
		}, []string{"result"}),
		activityReports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "panemirror_activity_reports_total",
			Help: "Human-typed commands reported to the agent.",
		}),
	}
	reg.MustRegister(
		m.commands,
		m.commandDuration,
		m.paneResets,
		m.hookInstalls,
		m.activityReports,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCommand records one finished command.
func (m *Metrics) ObserveCommand(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(result).Inc()
	m.commandDuration.Observe(d.Seconds())
}

func (m *Metrics) PaneReset() {
	if m == nil {
		return
	}
	m.paneResets.Inc()
}

// HookInstall records an install attempt; ok is false for a failed attempt.
func (m *Metrics) HookInstall(ok bool) {
	if m == nil {
		return
	}
	result := ResultOK
	if !ok {
		result = ResultFailed
	}
	m.hookInstalls.WithLabelValues(result).Inc()
}

func (m *Metrics) ActivityReported() {
	if m == nil {
		return
	}
	m.activityReports.Inc()
}

// Registry returns the underlying registry (nil for a nil Metrics).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
