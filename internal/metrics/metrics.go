// Package metrics holds the Prometheus collectors for ccextractor runs.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation labels.
const (
	OpExtract = "extract"
	OpVersion = "version"
)

// Result labels.
const (
	ResultOK         = "ok"
	ResultNonZero    = "nonzero"
	ResultTimeout    = "timeout"
	ResultSpawnError = "spawn_error"
	ResultInvalid    = "invalid"
	ResultCancelled  = "cancelled"
)

// Metrics groups the collectors registered for one server.
type Metrics struct {
	runs      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	truncated *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccxmcp_runs_total",
				Help: "ccextractor invocations by operation and result.",
			},
			[]string{"operation", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ccxmcp_run_duration_seconds",
				Help:    "Wall-clock duration of ccextractor processes.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"operation"},
		),
		truncated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccxmcp_truncated_streams_total",
				Help: "Captured output streams that exceeded the size bound.",
			},
			[]string{"stream"},
		),
	}
	for _, c := range []prometheus.Collector{m.runs, m.duration, m.truncated} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveRun records the outcome of one process run.
func (m *Metrics) ObserveRun(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(op, result).Inc()
	if d > 0 {
		m.duration.WithLabelValues(op).Observe(d.Seconds())
	}
}

// CountRejected records a call that never reached the process.
func (m *Metrics) CountRejected(op, result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(op, result).Inc()
}

// ObserveTruncation counts each stream that lost output.
func (m *Metrics) ObserveTruncation(stdout, stderr bool) {
	if m == nil {
		return
	}
	if stdout {
		m.truncated.WithLabelValues("stdout").Inc()
	}
	if stderr {
		m.truncated.WithLabelValues("stderr").Inc()
	}
}
