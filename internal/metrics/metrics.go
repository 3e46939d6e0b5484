package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector of the process.
type Metrics struct {
	registry *prometheus.Registry

	RefreshTotal       *prometheus.CounterVec
	RefreshDuration    *prometheus.HistogramVec
	CandidatesTotal    *prometheus.CounterVec
	HistoryWritesTotal *prometheus.CounterVec
	LastAvgPrice       *prometheus.GaugeVec
	PurgedRowsTotal    *prometheus.CounterVec
	HTTPRequestsTotal  *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New registers collectors under namespace on a private registry.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exchange_refresh_total",
				Help:      "Exchange refresh attempts by outcome and error kind.",
			},
			[]string{"exchange", "status", "error_kind"},
		),

		RefreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "exchange_refresh_duration_seconds",
				Help:      "Time spent fetching, normalizing and persisting one exchange.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"exchange"},
		),

		CandidatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidates_total",
				Help:      "Normalized quotations processed per exchange and pair.",
			},
			[]string{"exchange", "pair"},
		),

		HistoryWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_writes_total",
				Help:      "History rows appended after a detected change.",
			},
			[]string{"exchange", "pair"},
		),

		LastAvgPrice: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "avg_price",
				Help:      "Last persisted average price in VES.",
			},
			[]string{"exchange", "pair"},
		),

		PurgedRowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purged_rows_total",
				Help:      "Rows deleted by retention cleanup.",
			},
			[]string{"table"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "API requests by route and status code.",
			},
			[]string{"method", "route", "code"},
		),

		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "API request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRefresh records one exchange refresh outcome.
func (m *Metrics) RecordRefresh(exchange, status, errorKind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(exchange, status, errorKind).Inc()
	m.RefreshDuration.WithLabelValues(exchange).Observe(elapsed.Seconds())
}

// RecordCandidate records a processed quotation and whether history grew.
func (m *Metrics) RecordCandidate(exchange, pair string, avg float64, historyWritten bool) {
	if m == nil {
		return
	}
	m.CandidatesTotal.WithLabelValues(exchange, pair).Inc()
	m.LastAvgPrice.WithLabelValues(exchange, pair).Set(avg)
	if historyWritten {
		m.HistoryWritesTotal.WithLabelValues(exchange, pair).Inc()
	}
}

// RecordPurge records rows removed from table.
func (m *Metrics) RecordPurge(table string, rows int64) {
	if m == nil {
		return
	}
	m.PurgedRowsTotal.WithLabelValues(table).Add(float64(rows))
}

// RecordHTTP records one API request.
func (m *Metrics) RecordHTTP(method, route, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
