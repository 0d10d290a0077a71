package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry and the HTTP server exposing it.
type Metrics struct {
	Server     *http.Server
	Registry   *prometheus.Registry
	registerer prometheus.Registerer
	namespace  string
}

// NewMetrics builds the registry. Everything registered through it carries
// the service label.
func NewMetrics(cfg Config) *Metrics {
	if cfg.Address == "" {
		cfg.Address = DefaultMetricsAddress
	}

	registry := prometheus.NewRegistry()
	wrappedRegistry := prometheus.WrapRegistererWith(prometheus.Labels{"service": cfg.ServiceName}, registry)

	if cfg.EnableDefaultCollectors {
		wrappedRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewBuildInfoCollector(),
		)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Metrics{
		Server: &http.Server{
			Addr:              cfg.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		Registry:   registry,
		registerer: wrappedRegistry,
		namespace:  cfg.Namespace,
	}
}

// CreateCounter registers and returns a counter vector.
func (m *Metrics) CreateCounter(name, help string, labels ...string) *prometheus.CounterVec {
	c := createCounterVec(m.namespace, name, help, labels)
	m.registerer.MustRegister(c)
	return c
}

// CreateHistogram registers and returns a histogram vector. Nil buckets
// means prometheus.DefBuckets.
func (m *Metrics) CreateHistogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := createHistogramVec(m.namespace, name, help, labels, buckets)
	m.registerer.MustRegister(h)
	return h
}

// CreateGauge registers and returns a gauge vector.
func (m *Metrics) CreateGauge(name, help string, labels ...string) *prometheus.GaugeVec {
	g := createGaugeVec(m.namespace, name, help, labels)
	m.registerer.MustRegister(g)
	return g
}
