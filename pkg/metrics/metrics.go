// Package metrics defines the Prometheus metric collectors used across the
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SelectionsTotal      *prometheus.CounterVec
	SelectionLatency     *prometheus.HistogramVec
	SolverIterations     prometheus.Histogram
	ShardsRanked         prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	SnapshotLoadsTotal   *prometheus.CounterVec
	RecordsDroppedTotal  prometheus.Counter
	ShardDocCount        *prometheus.GaugeVec
	ActiveShards         prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SelectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shard_selections_total",
				Help: "Total shard selections by outcome (ok, empty_query, no_convergence, error).",
			},
			[]string{"outcome"},
		),
		SelectionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shard_selection_latency_seconds",
				Help:    "Shard selection latency in seconds.",
				Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
			[]string{"cache_status"},
		),
		SolverIterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "threshold_solver_iterations",
				Help:    "Bisection iterations needed per solved threshold.",
				Buckets: []float64{1, 5, 10, 20, 40, 60, 80, 120, 200},
			},
		),
		ShardsRanked: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shards_ranked_count",
				Help:    "Number of shards ranked per selection.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "selection_cache_hits_total",
				Help: "Total number of selection cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "selection_cache_misses_total",
				Help: "Total number of selection cache misses.",
			},
		),
		SnapshotLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stats_snapshot_loads_total",
				Help: "Total statistics snapshot loads by status.",
			},
			[]string{"status"},
		),
		RecordsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stats_records_dropped_total",
				Help: "Total invalid statistics records dropped at load time.",
			},
		),
		ShardDocCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shard_document_count",
				Help: "Number of documents per shard in the loaded snapshot.",
			},
			[]string{"shard_id"},
		),
		ActiveShards: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_shards",
				Help: "Number of shards in the loaded snapshot.",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SelectionsTotal,
		m.SelectionLatency,
		m.SolverIterations,
		m.ShardsRanked,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.SnapshotLoadsTotal,
		m.RecordsDroppedTotal,
		m.ShardDocCount,
		m.ActiveShards,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
