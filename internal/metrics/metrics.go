// Package metrics exposes the Prometheus instrumentation for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PaymentAttempts counts client payment flows by terminal outcome.
	PaymentAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_payment_attempts_total",
		Help: "Payment flows by terminal outcome (succeeded, failed).",
	}, []string{"outcome", "plan"})

	// ActivationRequests counts backend activation calls by result.
	ActivationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_activation_requests_total",
		Help: "Activation requests by result (activated, replayed, rejected, error).",
	}, []string{"result"})

	// ChainRPCDuration observes latency of chain RPC operations.
	ChainRPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_chain_rpc_duration_seconds",
		Help:    "Latency of chain RPC operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_http_requests_total",
		Help: "HTTP requests by path pattern and status.",
	}, []string{"path", "method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_http_request_duration_seconds",
		Help:    "HTTP request latency by path pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method"})
)

// ObserveRPC times a chain RPC operation.
func ObserveRPC(op string, start time.Time) {
	ChainRPCDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency per route.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		path := r.URL.Path
		httpRequests.WithLabelValues(path, r.Method, strconv.Itoa(sw.status)).Inc()
		httpDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
