// Package metrics provides Prometheus instrumentation for diffsets.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pool outcomes.
const (
	PoolGenerated = "generated"
	PoolSkipped   = "skipped"
	PoolCarried   = "carried"
)

// Set sources.
const (
	SourceNew    = "new"
	SourceReused = "reused"
)

// Metrics holds all Prometheus metric collectors for diffsets. All Record
// methods are safe to call on a nil *Metrics.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ActiveRequests     prometheus.Gauge
	PoolsProcessed     *prometheus.CounterVec
	SetsProduced       *prometheus.CounterVec
	SetIntraMean       *prometheus.HistogramVec
	EasyFallbacks      prometheus.Counter
	MatrixCache        *prometheus.CounterVec
	GenerationDuration prometheus.Histogram

	registry *prometheus.Registry
}

// New creates and registers all diffsets metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	// Include default Go and process collectors
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diffsets_requests_total",
				Help: "Total HTTP requests by endpoint and status code.",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "diffsets_request_duration_seconds",
				Help:    "HTTP request latency distribution.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"endpoint"},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "diffsets_active_requests",
				Help: "Number of requests currently being processed.",
			},
		),
		PoolsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diffsets_pools_total",
				Help: "Pools seen by the generator, by outcome (generated/skipped/carried).",
			},
			[]string{"outcome"},
		),
		SetsProduced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diffsets_sets_total",
				Help: "Difficulty sets emitted, by difficulty and source (new/reused).",
			},
			[]string{"difficulty", "source"},
		),
		SetIntraMean: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "diffsets_set_intra_mean",
				Help:    "Intra-group mean similarity of newly generated sets.",
				Buckets: []float64{-0.2, 0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
			[]string{"difficulty"},
		),
		EasyFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "diffsets_easy_fallbacks_total",
				Help: "Easy passes that fell back to ascending greedy construction.",
			},
		),
		MatrixCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diffsets_matrix_cache_total",
				Help: "Similarity matrix cache lookups by result (hit/miss).",
			},
			[]string{"result"},
		),
		GenerationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "diffsets_generation_duration_seconds",
				Help:    "Wall time of a full generation run.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.PoolsProcessed,
		m.SetsProduced,
		m.SetIntraMean,
		m.EasyFallbacks,
		m.MatrixCache,
		m.GenerationDuration,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request's metrics.
func (m *Metrics) RecordRequest(endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	status := strconv.Itoa(statusCode)
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordPool counts a pool outcome.
func (m *Metrics) RecordPool(outcome string) {
	if m == nil {
		return
	}
	m.PoolsProcessed.WithLabelValues(outcome).Inc()
}

// RecordSet counts an emitted set. Intra-mean is observed for new sets only.
func (m *Metrics) RecordSet(difficulty, source string, intraMean float64) {
	if m == nil {
		return
	}
	m.SetsProduced.WithLabelValues(difficulty, source).Inc()
	if source == SourceNew {
		m.SetIntraMean.WithLabelValues(difficulty).Observe(intraMean)
	}
}

// RecordFallback counts an easy greedy fallback.
func (m *Metrics) RecordFallback() {
	if m == nil {
		return
	}
	m.EasyFallbacks.Inc()
}

// RecordCache counts a matrix cache lookup.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.MatrixCache.WithLabelValues(result).Inc()
}

// RecordRun observes the duration of a generation run.
func (m *Metrics) RecordRun(duration time.Duration) {
	if m == nil {
		return
	}
	m.GenerationDuration.Observe(duration.Seconds())
}

// Middleware returns an HTTP middleware that instruments requests.
func (m *Metrics) Middleware(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.ActiveRequests.Inc()
		defer m.ActiveRequests.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rw, r)

		m.RecordRequest(endpoint, rw.statusCode, time.Since(start))
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so SSE streams work through the
// middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
