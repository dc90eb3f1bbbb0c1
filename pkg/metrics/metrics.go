// Package metrics defines the Prometheus collectors for the matching engine
// and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transaction outcomes recorded by TransactionsTotal.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	TransactionsTotal    *prometheus.CounterVec
	MatchesTotal         prometheus.Counter
	MatchLatency         prometheus.Histogram
	MatchesPerTx         prometheus.Histogram
	ForestSets           prometheus.Gauge
	ForestNodes          prometheus.Gauge
	SinkAppendsTotal     *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates all collectors and registers them on reg. A nil reg uses a
// fresh private registry, so tests can build as many as they like.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
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
		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matcher_transactions_total",
				Help: "Transactions handled by outcome (processed, skipped, failed, canceled).",
			},
			[]string{"outcome"},
		),
		MatchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "matcher_matches_total",
				Help: "Total match records produced.",
			},
		),
		MatchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "matcher_transaction_duration_seconds",
				Help:    "Time to match one transaction and append its results.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		MatchesPerTx: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "matcher_matches_per_transaction",
				Help:    "Number of matches produced per transaction.",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 500},
			},
		),
		ForestSets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "matcher_forest_sets",
				Help: "Item sets indexed in the active forest.",
			},
		),
		ForestNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "matcher_forest_nodes",
				Help: "Nodes in the active forest.",
			},
		),
		SinkAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matcher_sink_appends_total",
				Help: "Sink append calls by status.",
			},
			[]string{"status"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "match_cache_hits_total",
				Help: "Total number of match cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "match_cache_misses_total",
				Help: "Total number of match cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.TransactionsTotal,
		m.MatchesTotal,
		m.MatchLatency,
		m.MatchesPerTx,
		m.ForestSets,
		m.ForestNodes,
		m.SinkAppendsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler returns the Prometheus scrape HTTP handler for the registry the
// collectors were registered on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
