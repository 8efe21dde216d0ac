package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "climate_collector"

// Metrics holds the Prometheus collectors shared by the fetch layer, the
// orchestrator and the collector.
type Metrics struct {
	// Provider HTTP metrics. labels: provider, outcome={success,failure,rejected}
	ProviderRequests *prometheus.CounterVec
	ProviderRetries  *prometheus.CounterVec // labels: provider

	// Orchestrator metrics.
	RecordsByOrigin *prometheus.CounterVec // labels: origin
	EmptyResults    *prometheus.CounterVec // labels: query={daily,monthly,historical}

	// Collector metrics.
	RunDuration     *prometheus.HistogramVec // labels: kind
	RecordsExported *prometheus.CounterVec   // labels: kind, format
}

func newCollectors() *Metrics {
	return &Metrics{
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Provider HTTP requests by final outcome (after retries).",
		}, []string{"provider", "outcome"}),
		ProviderRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Failed provider request attempts that were retried.",
		}, []string{"provider"}),
		RecordsByOrigin: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestrator_records_total",
			Help:      "Records returned by the orchestrator by origin tag.",
		}, []string{"origin"}),
		EmptyResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestrator_empty_results_total",
			Help:      "Queries for which no provider returned data.",
		}, []string{"query"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collector_run_duration_seconds",
			Help:      "Duration of a complete collect-process-export run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),
		RecordsExported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_exported_total",
			Help:      "Records written by exporters.",
		}, []string{"kind", "format"}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newCollectors()
	prometheus.MustRegister(
		m.ProviderRequests,
		m.ProviderRetries,
		m.RecordsByOrigin,
		m.EmptyResults,
		m.RunDuration,
		m.RecordsExported,
	)
	return m
}

// NewMetricsForTesting creates unregistered metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newCollectors()
}
