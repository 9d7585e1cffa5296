// Package metrics provides Prometheus instrumentation for the switchyard
// server.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only switchyard metrics appear on the /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/switchyard-io/switchyard/internal/core"
)

// Metrics holds all Prometheus collectors used by the switchyard server.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	CacheSize           *prometheus.GaugeVec
	CacheLoadsTotal     prometheus.Counter
	CacheInvalidations  prometheus.Counter
	EvaluationsTotal    *prometheus.CounterVec
	PlaygroundRequests  prometheus.Counter
	PlaygroundRejected  prometheus.Counter
	PlaygroundBatchSize prometheus.Histogram
	AuthFailuresTotal   prometheus.Counter
}

// New creates and registers all switchyard metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchyard_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchyard_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		CacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "switchyard_cache_size",
			Help: "Number of definitions in the in-memory snapshot.",
		}, []string{"kind"}),

		CacheLoadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchyard_cache_loads_total",
			Help: "Total number of full snapshot reloads from the database.",
		}),

		CacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchyard_cache_invalidations_total",
			Help: "Total number of NOTIFY-triggered snapshot invalidations.",
		}),

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchyard_evaluations_total",
			Help: "Total number of feature evaluations by outcome.",
		}, []string{"result"}),

		PlaygroundRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchyard_playground_requests_total",
			Help: "Total number of batch evaluation requests.",
		}),

		PlaygroundRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchyard_playground_rejected_total",
			Help: "Total number of batch evaluation requests rejected by the complexity guard.",
		}),

		PlaygroundBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "switchyard_playground_combinations",
			Help:    "Combination count per accepted batch evaluation request.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchyard_auth_failures_total",
			Help: "Total number of failed authentication attempts.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CacheSize,
		m.CacheLoadsTotal,
		m.CacheInvalidations,
		m.EvaluationsTotal,
		m.PlaygroundRequests,
		m.PlaygroundRejected,
		m.PlaygroundBatchSize,
		m.AuthFailuresTotal,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordEvaluation increments the evaluation counter for the given outcome.
func (m *Metrics) RecordEvaluation(outcome core.StrategyOutcome) {
	m.EvaluationsTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordPlayground records an accepted batch evaluation of the given size.
func (m *Metrics) RecordPlayground(combinations int) {
	m.PlaygroundRequests.Inc()
	m.PlaygroundBatchSize.Observe(float64(combinations))
}

// RecordPlaygroundRejection records a batch request refused by the
// complexity guard.
func (m *Metrics) RecordPlaygroundRejection() {
	m.PlaygroundRequests.Inc()
	m.PlaygroundRejected.Inc()
}

// SetCacheSize updates the snapshot size gauge for one definition kind
// ("features" or "segments").
func (m *Metrics) SetCacheSize(kind string, size float64) {
	m.CacheSize.WithLabelValues(kind).Set(size)
}

// IncCacheLoads increments the snapshot reload counter.
func (m *Metrics) IncCacheLoads() {
	m.CacheLoadsTotal.Inc()
}

// IncCacheInvalidations increments the snapshot invalidation counter.
func (m *Metrics) IncCacheInvalidations() {
	m.CacheInvalidations.Inc()
}
