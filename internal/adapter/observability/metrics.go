package observability

import (
	"net/http"
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

	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_requests_total",
			Help: "Total number of upstream backend calls by operation and status",
		},
		[]string{"operation", "status"},
	)
	BackendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_request_duration_seconds",
			Help:    "Upstream backend call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	SchedulerSelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_selections_total",
			Help: "Total number of account selections by outcome",
		},
		[]string{"outcome"},
	)
	SchedulerCASRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_cas_retries_total",
			Help: "Total number of cursor compare-and-swap conflicts",
		},
	)
	AccountDemotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "account_demotions_total",
			Help: "Total number of accounts marked unavailable by reason",
		},
		[]string{"reason"},
	)

	CredentialMintsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_mints_total",
			Help: "Total number of credential mints by outcome",
		},
		[]string{"outcome"},
	)
	SessionCreatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_creates_total",
			Help: "Total number of upstream sessions created by outcome",
		},
		[]string{"outcome"},
	)

	MediaDownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_downloads_total",
			Help: "Total number of referenced media downloads by outcome",
		},
		[]string{"outcome"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(BackendRequestsTotal)
	prometheus.MustRegister(BackendRequestDuration)
	prometheus.MustRegister(SchedulerSelectionsTotal)
	prometheus.MustRegister(SchedulerCASRetriesTotal)
	prometheus.MustRegister(AccountDemotionsTotal)
	prometheus.MustRegister(CredentialMintsTotal)
	prometheus.MustRegister(SessionCreatesTotal)
	prometheus.MustRegister(MediaDownloadsTotal)
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
