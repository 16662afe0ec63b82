package pipeline

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's own Prometheus metrics.
type Metrics struct {
	eventsIngested *prometheus.CounterVec
	eventsEvicted  prometheus.Counter
	fanoutErrors   *prometheus.CounterVec

	subscriptionsActive prometheus.Gauge
	streamsActive       prometheus.Gauge

	exportAttempts  *prometheus.CounterVec
	exportLatency   *prometheus.HistogramVec
	retryQueueDepth prometheus.Gauge
	retryDrops      *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		eventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_events_ingested_total",
				Help: "Total number of events ingested by level",
			},
			[]string{"level"},
		),

		eventsEvicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_events_evicted_total",
				Help: "Total number of events dropped by capacity eviction",
			},
		),

		fanoutErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_fanout_errors_total",
				Help: "Total number of consumer failures during fan-out by consumer kind",
			},
			[]string{"kind"},
		),

		subscriptionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulse_subscriptions_active",
				Help: "Number of currently active subscriptions",
			},
		),

		streamsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulse_streams_active",
				Help: "Number of currently active streaming connections",
			},
		),

		exportAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_export_attempts_total",
				Help: "Total number of export attempts by destination and outcome",
			},
			[]string{"destination", "outcome"},
		),

		exportLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_export_duration_seconds",
				Help:    "Export delivery latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"destination"},
		),

		retryQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulse_retry_queue_depth",
				Help: "Number of batches awaiting redelivery",
			},
		),

		retryDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_retry_drops_total",
				Help: "Total number of batches dropped after exhausting retries",
			},
			[]string{"destination"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.eventsIngested,
		m.eventsEvicted,
		m.fanoutErrors,
		m.subscriptionsActive,
		m.streamsActive,
		m.exportAttempts,
		m.exportLatency,
		m.retryQueueDepth,
		m.retryDrops,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// RecordIngest records one ingested event.
func (m *Metrics) RecordIngest(level string) {
	m.eventsIngested.WithLabelValues(level).Inc()
}

// RecordEviction records one capacity eviction.
func (m *Metrics) RecordEviction() {
	m.eventsEvicted.Inc()
}

// RecordFanoutError records a consumer failure by kind.
func (m *Metrics) RecordFanoutError(kind string) {
	m.fanoutErrors.WithLabelValues(kind).Inc()
}

// UpdateConnections updates the subscription and stream gauges.
func (m *Metrics) UpdateConnections(subscriptions, streams int) {
	m.subscriptionsActive.Set(float64(subscriptions))
	m.streamsActive.Set(float64(streams))
}

// RecordExport records one export attempt.
func (m *Metrics) RecordExport(destination string, success bool, duration time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.exportAttempts.WithLabelValues(destination, outcome).Inc()
	m.exportLatency.WithLabelValues(destination).Observe(duration.Seconds())
}

// UpdateRetryQueueDepth updates the retry queue gauge.
func (m *Metrics) UpdateRetryQueueDepth(depth int) {
	m.retryQueueDepth.Set(float64(depth))
}

// RecordRetryDrop records a batch dropped after exhausting its retry budget.
func (m *Metrics) RecordRetryDrop(destination string) {
	m.retryDrops.WithLabelValues(destination).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request metrics around an HTTP handler.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := getEndpointName(r.URL.Path)
		statusCode := strconv.Itoa(wrapped.statusCode)

		m.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support http.Hijacker")
}

// getEndpointName extracts a normalized endpoint name from the path
func getEndpointName(path string) string {
	switch path {
	case "/healthz":
		return "healthz"
	case "/metrics":
		return "metrics"
	case "/events":
		return "events"
	case "/events/stream":
		return "events_stream"
	case "/traces":
		return "traces"
	case "/stats":
		return "stats"
	default:
		return "unknown"
	}
}
