// Package telemetry holds the pipeline's Prometheus series.
package telemetry

import (
	"time"

	"github.com/Aleph-Alpha/mediaindex/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Pipeline groups the counters and histograms written by ingestion, the
// sweep, search and the queue backends.
type Pipeline struct {
	Transitions      *prometheus.CounterVec
	Failures         *prometheus.CounterVec
	ExtractSeconds   *prometheus.HistogramVec
	Findings         *prometheus.CounterVec
	SearchRequests   *prometheus.CounterVec
	SearchSeconds    *prometheus.HistogramVec
	QueueQuarantined *prometheus.CounterVec
}

var extractBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// New registers the pipeline series on m.
func New(m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		Transitions:      m.CreateCounter("ingest_transitions_total", "Media state transitions.", "from", "to"),
		Failures:         m.CreateCounter("ingest_failures_total", "Failed processing attempts by error kind.", "kind"),
		ExtractSeconds:   m.CreateHistogram("ingest_extract_seconds", "Feature extraction latency.", extractBuckets),
		Findings:         m.CreateCounter("reconcile_findings_total", "Consistency violations healed by the sweep.", "kind"),
		SearchRequests:   m.CreateCounter("search_requests_total", "Search requests by mode.", "mode"),
		SearchSeconds:    m.CreateHistogram("search_seconds", "Search latency by mode.", nil, "mode"),
		QueueQuarantined: m.CreateCounter("queue_quarantined_total", "Deliveries moved to quarantine.", "backend"),
	}
}

// NewNop registers on a throwaway registry. Tests and one-shot commands use it.
func NewNop() *Pipeline {
	return New(metrics.NewMetrics(metrics.Config{ServiceName: "nop"}))
}

// Transition counts one state change.
func (p *Pipeline) Transition(from, to string) {
	p.Transitions.WithLabelValues(from, to).Inc()
}

// Failure counts one failed attempt.
func (p *Pipeline) Failure(kind string) {
	p.Failures.WithLabelValues(kind).Inc()
}

// ObserveExtract records how long one extraction took.
func (p *Pipeline) ObserveExtract(d time.Duration) {
	p.ExtractSeconds.WithLabelValues().Observe(d.Seconds())
}

// Finding counts one sweep finding.
func (p *Pipeline) Finding(kind string) {
	p.Findings.WithLabelValues(kind).Inc()
}

// Search counts a request and its latency.
func (p *Pipeline) Search(mode string, d time.Duration) {
	p.SearchRequests.WithLabelValues(mode).Inc()
	p.SearchSeconds.WithLabelValues(mode).Observe(d.Seconds())
}

// Quarantined counts one delivery moved aside.
func (p *Pipeline) Quarantined(backend string) {
	p.QueueQuarantined.WithLabelValues(backend).Inc()
}

// FXModule provides *Pipeline on top of the metrics registry.
var FXModule = fx.Module("telemetry",
	fx.Provide(New),
)
