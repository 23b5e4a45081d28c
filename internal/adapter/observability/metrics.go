package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI provider calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI provider call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)
	AIFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ai_fallbacks_total",
			Help: "Total number of generate calls served by the fallback provider",
		},
	)

	CacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_ops_total",
			Help: "Response cache operations by backend and outcome",
		},
		[]string{"backend", "result"},
	)

	QuotaDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_decisions_total",
			Help: "Quota admission decisions",
		},
		[]string{"decision"},
	)

	BatchJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_jobs_total",
			Help: "Batch jobs by terminal status",
		},
		[]string{"status"},
	)
	BatchJobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "batch_jobs_in_flight",
			Help: "Batch jobs currently executing",
		},
	)
)

var initOnce sync.Once

// InitMetrics registers all metrics with the default registry.
// Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AIRequestsTotal,
			AIRequestDuration,
			AIFallbacksTotal,
			CacheOpsTotal,
			QuotaDecisionsTotal,
			BatchJobsTotal,
			BatchJobsInFlight,
		)
	})
}

// HTTPMetricsMiddleware records request counts and latency per chi route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
