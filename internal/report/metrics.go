package report

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zjy-dev/baztest/internal/coverage"
	"github.com/zjy-dev/baztest/internal/runner"
	"github.com/zjy-dev/baztest/internal/state"
)

const metricsNamespace = "baztest"

// MetricsSink records run outcomes as prometheus metrics.
type MetricsSink struct {
	runner.NopSink

	Outcomes     *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
	CoveredLines prometheus.Counter
	TotalLines   prometheus.Counter
	OutputBytes  prometheus.Counter
}

// NewMetricsSink creates a MetricsSink and registers its collectors with reg.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	m := &MetricsSink{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "targets_total",
			Help:      "Number of test targets by final status.",
		}, []string{"status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "target_duration_seconds",
			Help:      "Wall time of a test target run.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"status"}),
		CoveredLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "coverage_lines_hit_total",
			Help:      "Instrumented lines executed at least once.",
		}),
		TotalLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "coverage_lines_found_total",
			Help:      "Instrumented lines reported.",
		}),
		OutputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "output_bytes_total",
			Help:      "Bytes of test output forwarded.",
		}),
	}
	reg.MustRegister(m.Outcomes, m.Duration, m.CoveredLines, m.TotalLines, m.OutputBytes)
	return m
}

func (m *MetricsSink) observe(status state.Status, d time.Duration) {
	m.Outcomes.WithLabelValues(string(status)).Inc()
	m.Duration.WithLabelValues(string(status)).Observe(d.Seconds())
}

func (m *MetricsSink) OnOutput(t runner.Target, out string) {
	m.OutputBytes.Add(float64(len(out)))
}

func (m *MetricsSink) OnPassed(t runner.Target, d time.Duration) {
	m.observe(state.Passed, d)
}

func (m *MetricsSink) OnFailed(t runner.Target, msg string, d time.Duration) {
	m.observe(state.Failed, d)
}

func (m *MetricsSink) OnErrored(t runner.Target, msg string, d time.Duration) {
	m.observe(state.Errored, d)
}

func (m *MetricsSink) OnCancelled(t runner.Target) {
	m.Outcomes.WithLabelValues(string(state.Cancelled)).Inc()
}

func (m *MetricsSink) OnCoverage(t runner.Target, f *coverage.FileCoverage) {
	m.CoveredLines.Add(float64(f.LinesHit()))
	m.TotalLines.Add(float64(f.LinesFound()))
}
