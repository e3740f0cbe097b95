package perf

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "welfare"

// Cache lookup outcomes.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
)

// Metrics exposes request, query, cache and report metrics to prometheus.
type Metrics struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	queryDuration   *prometheus.HistogramVec
	reportDuration  *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	reports         *prometheus.CounterVec
	authEvents      *prometheus.CounterVec
}

// NewMetrics builds and registers all collectors on a private registry.
// PRE: none
// POST: Returns Metrics whose Handler serves the registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database call latency by operation.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		reportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_duration_seconds",
			Help:      "Report generation latency by kind.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_lookups_total",
			Help:      "Query cache lookups by result.",
		}, []string{"result"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_generated_total",
			Help:      "Report generations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Auth state changes published to subscribers.",
		}, []string{"type"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestDuration,
		m.queryDuration,
		m.reportDuration,
		m.cacheLookups,
		m.reports,
		m.authEvents,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CacheLookup counts a query cache lookup with one of CacheHit, CacheMiss or CacheStale.
// Like the other counters it is a no-op on a nil *Metrics.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ReportGenerated counts a finished report generation.
func (m *Metrics) ReportGenerated(kind, outcome string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(kind, outcome).Inc()
}

// AuthEvent counts a published auth event.
func (m *Metrics) AuthEvent(eventType string) {
	if m == nil {
		return
	}
	m.authEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) observe(e Entry) {
	seconds := e.DurationMs / 1000
	switch e.Kind {
	case KindRequest:
		m.requestDuration.WithLabelValues(e.Path, strconv.Itoa(e.StatusCode)).Observe(seconds)
	case KindQuery:
		m.queryDuration.WithLabelValues(e.Path).Observe(seconds)
	case KindReport:
		m.reportDuration.WithLabelValues(e.Path).Observe(seconds)
	}
}
