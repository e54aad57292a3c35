package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the dashboard BFF.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Reporting API
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge
	BackendRetriesTotal        *prometheus.CounterVec

	// Dashboard
	SectionLoadsTotal     *prometheus.CounterVec
	SectionLoadDuration   *prometheus.HistogramVec
	DrilldownFetchesTotal *prometheus.CounterVec
	ActionsTotal          *prometheus.CounterVec
	StaleCompletionsTotal *prometheus.CounterVec
	SessionConflictsTotal prometheus.Counter
	ExportsTotal          *prometheus.CounterVec

	// Lookup cache
	LookupCacheHitsTotal   *prometheus.CounterVec
	LookupCacheMissesTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubpulse_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clubpulse_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clubpulse_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clubpulse_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubpulse_backend_requests_total",
			Help: "Total number of reporting API requests.",
		}, []string{"endpoint", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clubpulse_backend_request_duration_seconds",
			Help:    "Reporting API request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"endpoint"}),
		BackendCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clubpulse_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubpulse_backend_retries_total",
			Help: "Total number of reporting API request retries.",
		}, []string{"endpoint"}),

		SectionLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubpulse_section_loads_total",
			Help: "Total number of dashboard section loads.",
		}, []string{"section", "status"}),
		SectionLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clubpulse_section_load_duration_seconds",
			Help:    "Dashboard section load duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"section"}),
		DrilldownFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubpulse_drilldown_fetches_total",
			Help: "Total number of drill-down fetches.",
		}, []string{"mode", "status"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubpulse_actions_total",
			Help: "Total number of dispatched dashboard actions.",
		}, []string{"action", "status"}),
		StaleCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubpulse_stale_completions_total",
			Help: "Fetch completions discarded because a newer fetch superseded them.",
		}, []string{"target"}),
		SessionConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clubpulse_session_conflicts_total",
			Help: "Total number of optimistic session update conflicts.",
		}),
		ExportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubpulse_exports_total",
			Help: "Total number of CSV export requests.",
		}, []string{"status"}),

		LookupCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubpulse_lookup_cache_hits_total",
			Help: "Total lookup cache hits.",
		}, []string{"lookup_id", "tier"}),
		LookupCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubpulse_lookup_cache_misses_total",
			Help: "Total lookup cache misses.",
		}, []string{"lookup_id"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		m.SectionLoadsTotal,
		m.SectionLoadDuration,
		m.DrilldownFetchesTotal,
		m.ActionsTotal,
		m.StaleCompletionsTotal,
		m.SessionConflictsTotal,
		m.ExportsTotal,
		m.LookupCacheHitsTotal,
		m.LookupCacheMissesTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordBackendRequest records a reporting API request. status is 0 when
// the request failed before a response arrived.
func (m *Metrics) RecordBackendRequest(endpoint string, status int, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the reporting API breaker state.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBackendCircuitBreakerState(state float64) {
	m.BackendCircuitBreakerState.Set(state)
}

// RecordBackendRetry records a reporting API request retry.
func (m *Metrics) RecordBackendRetry(endpoint string) {
	m.BackendRetriesTotal.WithLabelValues(endpoint).Inc()
}

// RecordSectionLoad records a completed section load.
func (m *Metrics) RecordSectionLoad(section string, err error, duration time.Duration) {
	m.SectionLoadsTotal.WithLabelValues(section, outcome(err)).Inc()
	m.SectionLoadDuration.WithLabelValues(section).Observe(duration.Seconds())
}

// RecordDrilldownFetch records a drill-down fetch; mode is "flat" or "tab".
func (m *Metrics) RecordDrilldownFetch(mode string, err error) {
	m.DrilldownFetchesTotal.WithLabelValues(mode, outcome(err)).Inc()
}

// RecordAction records a dispatched dashboard action.
func (m *Metrics) RecordAction(action string, err error) {
	m.ActionsTotal.WithLabelValues(action, outcome(err)).Inc()
}

// RecordStaleCompletion records a discarded completion; target is
// "section" or "drilldown".
func (m *Metrics) RecordStaleCompletion(target string) {
	m.StaleCompletionsTotal.WithLabelValues(target).Inc()
}

// RecordSessionConflict records an optimistic update conflict.
func (m *Metrics) RecordSessionConflict() {
	m.SessionConflictsTotal.Inc()
}

// RecordExport records a CSV export request.
func (m *Metrics) RecordExport(err error) {
	m.ExportsTotal.WithLabelValues(outcome(err)).Inc()
}

// RecordLookupCacheHit records a lookup cache hit; tier is "local" or "redis".
func (m *Metrics) RecordLookupCacheHit(lookupID, tier string) {
	m.LookupCacheHitsTotal.WithLabelValues(lookupID, tier).Inc()
}

// RecordLookupCacheMiss records a lookup cache miss.
func (m *Metrics) RecordLookupCacheMiss(lookupID string) {
	m.LookupCacheMissesTotal.WithLabelValues(lookupID).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// --- HTTP Middleware ---

// MetricsMiddleware records request metrics labelled by chi's route pattern
// rather than the raw path.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := newStatusRecorder(w)

		next.ServeHTTP(sw, r)

		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}
		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.ReplaceAll(pattern, "/*/", "/")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// statusRecorder captures the status and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.written = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
