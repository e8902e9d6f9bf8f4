// Package metrics provides Prometheus instrumentation for the pool ledger.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CallsTotal counts ledger calls by operation and outcome ("ok" or the
	// error category).
	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predifi_ledger_calls_total",
		Help: "Total number of ledger calls",
	}, []string{"op", "result"})

	CallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predifi_ledger_call_latency_seconds",
		Help:    "Ledger call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// PredictionsTotal counts committed predictions by branch
	// ("first" or "replaced").
	PredictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predifi_predictions_total",
		Help: "Total number of predictions placed",
	}, []string{"branch"})

	// OpenPools tracks pools created and not yet resolved or canceled by
	// this process.
	OpenPools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predifi_open_pools",
		Help: "Number of currently open pools",
	})

	// UnauthorizedAttempts counts rejected privileged calls.
	UnauthorizedAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predifi_unauthorized_attempts_total",
		Help: "Privileged calls rejected for missing role",
	}, []string{"op"})

	HighValuePredictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predifi_high_value_predictions_total",
		Help: "Predictions at or above the high-value threshold",
	})

	// QuotaAborts counts calls aborted by the per-call entry budget.
	QuotaAborts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predifi_quota_aborts_total",
		Help: "Ledger calls aborted by the per-call entry budget",
	}, []string{"kind"})

	// RenewalChecks counts entries checked by the background renewer.
	RenewalChecks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predifi_renewal_checks_total",
		Help: "Entries checked for lifetime renewal",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predifi_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predifi_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predifi_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps the path label low-cardinality.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
