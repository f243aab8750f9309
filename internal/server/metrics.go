package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"

	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// queryRequestsTotal counts completed /query requests, partitioned by
	// outcome: "ok", "timeout", or "error".
	queryRequestsTotal *prometheus.CounterVec

	// queryDurationSeconds records the wall-clock duration of each /query
	// request.
	queryDurationSeconds *prometheus.HistogramVec

	// queriesInFlight is the number of /query requests currently running.
	queriesInFlight prometheus.Gauge

	// uploadsTotal counts upload requests by source ("file" or "url") and
	// outcome.
	uploadsTotal *prometheus.CounterVec

	// rateLimitedTotal counts requests rejected with 429.
	rateLimitedTotal prometheus.Counter

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		queryRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "http_query",
			Name:      "requests_total",
			Help:      "Total number of /query requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		queryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docchat",
			Subsystem: "http_query",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /query requests from receipt to response.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		queriesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "docchat",
			Subsystem: "http_query",
			Name:      "in_flight",
			Help:      "Number of /query requests currently being answered.",
		}),

		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "http_upload",
			Name:      "requests_total",
			Help:      "Total number of upload requests, partitioned by source and outcome.",
		}, []string{"source", "outcome"}),

		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docchat",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// queryTimer tracks one in-flight /query request.
type queryTimer struct {
	m     *serverMetrics
	start time.Time
}

// startQuery marks a query in flight.
func (m *serverMetrics) startQuery() queryTimer {
	m.queriesInFlight.Inc()
	return queryTimer{m: m, start: time.Now()}
}

// done records the query outcome and duration.
func (t queryTimer) done(outcome string) {
	t.m.queriesInFlight.Dec()
	t.m.queryRequestsTotal.WithLabelValues(outcome).Inc()
	t.m.queryDurationSeconds.WithLabelValues(outcome).Observe(time.Since(t.start).Seconds())
}

// instrument wraps next with the per-handler request counter and latency
// histogram.
func (m *serverMetrics) instrument(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)
		m.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}
