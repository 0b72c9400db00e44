// Package middleware provides HTTP middleware for the coordinator.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Domain metrics
	pipelinesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_pipelines_created_total",
			Help: "Total number of pipelines created, by trigger source",
		},
		[]string{"source"},
	)

	jobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_jobs_finished_total",
			Help: "Total number of finished jobs by architecture and status",
		},
		[]string{"arch", "status"},
	)

	jobPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_job_polls_total",
			Help: "Total number of worker poll requests by outcome",
		},
		[]string{"outcome"},
	)

	jobsRecycledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_jobs_recycled_total",
			Help: "Total number of jobs returned to the queue from dead workers",
		},
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_errors_total",
			Help: "Total number of errors by type",
		},
		[]string{"type"},
	)
)

// Metrics returns a middleware that records Prometheus metrics.
func Metrics() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			// Route pattern keeps metric cardinality bounded
			path := normalizePath(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.status)

			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)

			if wrapped.status >= 400 {
				errorType := "client_error"
				if wrapped.status >= 500 {
					errorType = "server_error"
				}
				errorsTotal.WithLabelValues(errorType).Inc()
			}
		})
	}
}

// RecordPipelineCreated counts a new pipeline by trigger source.
func RecordPipelineCreated(source string) {
	pipelinesCreatedTotal.WithLabelValues(source).Inc()
}

// RecordJobFinished counts a job reaching a terminal status.
func RecordJobFinished(arch, status string) {
	jobsFinishedTotal.WithLabelValues(arch, status).Inc()
}

// RecordJobPoll counts a worker poll request. Outcome is "assigned" or
// "empty".
func RecordJobPoll(outcome string) {
	jobPollsTotal.WithLabelValues(outcome).Inc()
}

// RecordJobsRecycled counts jobs returned to the queue by the recycler.
func RecordJobsRecycled(n int) {
	jobsRecycledTotal.Add(float64(n))
}

type metricsResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths to prevent cardinality explosion.
func normalizePath(r *http.Request) string {
	// Get route pattern from chi if available
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}

	// Fallback: collapse numeric IDs
	segments := strings.Split(r.URL.Path, "/")
	for i, seg := range segments {
		if seg != "" && isNumeric(seg) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
