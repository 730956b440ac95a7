package scraper

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the fetcher, the pipeline and
// the HTTP boundary.
type Metrics struct {
	Registry           *prometheus.Registry
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	RowsExtractedTotal prometheus.Counter
	CacheHitsTotal     prometheus.Counter
	ResponsesTotal     *prometheus.CounterVec
	UpstreamStatus     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eggprice_requests_total",
			Help: "Upstream requests issued against the report form.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eggprice_request_duration_seconds",
			Help:    "Upstream request latency by form phase.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eggprice_errors_total",
			Help: "Scrape errors by type.",
		},
		[]string{"error_type"},
	)
	rows := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eggprice_rows_extracted_total",
			Help: "Raw table rows extracted from report pages.",
		},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eggprice_cache_hits_total",
			Help: "Reports served from the result cache.",
		},
	)
	responses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eggprice_http_requests_total",
			Help: "Responses written by the HTTP endpoint by status code.",
		},
		[]string{"code"},
	)

	upstream := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eggprice_upstream_responses_total",
			Help: "Upstream responses by form phase and status code.",
		},
		[]string{"phase", "code"},
	)

	registry.MustRegister(requests, requestDuration, errorsTotal, rows, cacheHits, responses, upstream)

	return &Metrics{
		Registry:           registry,
		RequestsTotal:      requests,
		RequestDuration:    requestDuration,
		ErrorsTotal:        errorsTotal,
		RowsExtractedTotal: rows,
		CacheHitsTotal:     cacheHits,
		ResponsesTotal:     responses,
		UpstreamStatus:     upstream,
	}
}

// IncRequest increments the upstream request counter for a phase.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an upstream request duration.
func (m *Metrics) ObserveDuration(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// AddRows counts extracted table rows.
func (m *Metrics) AddRows(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsExtractedTotal.Add(float64(n))
}

// IncCacheHit counts a cached report.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// IncResponse counts an HTTP response by status code.
func (m *Metrics) IncResponse(code int) {
	if m == nil {
		return
	}
	m.ResponsesTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// IncUpstreamStatus counts an upstream response by phase and status code.
func (m *Metrics) IncUpstreamStatus(phase string, code int) {
	if m == nil {
		return
	}
	m.UpstreamStatus.WithLabelValues(phase, strconv.Itoa(code)).Inc()
}
