// Package metrics provides Prometheus instrumentation for the custody engine.
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
	// TransactionsTotal counts executed messages by action and outcome
	// (committed, rejected, host_failed).
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rwa_transactions_total",
		Help: "Total number of execute messages processed",
	}, []string{"action", "outcome"})

	// TransactionLatency tracks time from admission to commit or rejection.
	TransactionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rwa_transaction_latency_seconds",
		Help:    "Execute message latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// InstructionsTotal counts outbound instructions handed to the host.
	InstructionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rwa_instructions_total",
		Help: "Outbound instructions executed by the host",
	}, []string{"kind"})

	// ActiveListings tracks the number of assets on sale.
	ActiveListings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rwa_active_listings",
		Help: "Number of active marketplace listings",
	})

	// StakedPositions tracks the number of staked assets.
	StakedPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rwa_staked_positions",
		Help: "Number of assets currently staked",
	})

	// RewardsPaid tracks cumulative rewards paid in reward token units.
	RewardsPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rwa_rewards_paid_total",
		Help: "Cumulative staking rewards paid",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rwa_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rwa_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rwa_http_request_duration_seconds",
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

		// Route pattern keeps token ids out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
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
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
