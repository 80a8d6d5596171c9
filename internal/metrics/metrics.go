// Package metrics exposes Prometheus collectors for lookups, enrichment runs
// and the HTTP API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/geoenrich/internal/model"
)

const namespace = "geoenrich"

// Metrics holds the collectors for one process. Each instance owns its
// registry, so tests can create as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	Lookups *prometheus.CounterVec // labels: service={viacep,nominatim}, outcome

	RowsProcessed    prometheus.Counter
	RowErrors        prometheus.Counter
	CoordinatesFound prometheus.Counter
	FixedCEPs        prometheus.Counter
	ChunkDuration    prometheus.Histogram
	Runs             *prometheus.CounterVec // labels: status
	RunsInFlight     prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Directory and geocoding lookups by service and outcome.",
		}, []string{"service", "outcome"}),
		RowsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_processed_total",
			Help:      "Rows run through the enrichment pipeline.",
		}),
		RowErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "row_errors_total",
			Help:      "Rows whose enrichment recorded an error.",
		}),
		CoordinatesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coordinates_found_total",
			Help:      "Rows that gained a coordinate pair.",
		}),
		FixedCEPs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fixed_ceps_total",
			Help:      "Postal codes corrected from the row address.",
		}),
		ChunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Time to enrich one chunk.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished enrichment runs by status.",
		}, []string{"status"}),
		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Enrichment runs currently executing.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 60},
		}, []string{"method", "path", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Lookups,
		m.RowsProcessed,
		m.RowErrors,
		m.CoordinatesFound,
		m.FixedCEPs,
		m.ChunkDuration,
		m.Runs,
		m.RunsInFlight,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observer returns a lookup outcome hook for one service, suitable for
// cep.WithObserver and geocode.WithObserver. A nil receiver yields nil.
func (m *Metrics) Observer(service string) func(outcome string) {
	if m == nil {
		return nil
	}
	return func(outcome string) {
		m.Lookups.WithLabelValues(service, outcome).Inc()
	}
}

// ObserveRun records the totals of a finished run.
func (m *Metrics) ObserveRun(status model.RunStatus, stats model.StatsSnapshot) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(string(status)).Inc()
	m.RowsProcessed.Add(float64(stats.ProcessedRows))
	m.RowErrors.Add(float64(len(stats.Errors)))
	m.CoordinatesFound.Add(float64(stats.FoundCoordinates))
	m.FixedCEPs.Add(float64(stats.FixedCEPs))
}
