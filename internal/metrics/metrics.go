// Package metrics provides Prometheus instrumentation for the matching engine.
package metrics

import (
	"bufio"
	"errors"
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
	// MatchingComputations counts engine runs by kind ("matching", "finalize")
	// and outcome ("ok", "error").
	MatchingComputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qf_matching_computations_total",
		Help: "Total matching computations",
	}, []string{"kind", "outcome"})

	MatchingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qf_matching_duration_seconds",
		Help:    "Matching computation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// EstimatesTotal counts hypothetical amounts evaluated.
	EstimatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qf_estimates_total",
		Help: "Hypothetical contribution amounts estimated",
	})

	VotesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qf_votes_total",
		Help: "Votes recorded",
	})

	RoundsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qf_rounds_finalized_total",
		Help: "Rounds finalized with a payout distribution",
	})

	// OpenRounds tracks rounds still accepting votes.
	OpenRounds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qf_open_rounds",
		Help: "Number of rounds currently open",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qf_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qf_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qf_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveComputation records one engine run started at start.
func ObserveComputation(kind string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	MatchingComputations.WithLabelValues(kind, outcome).Inc()
	MatchingDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency. The path label is the chi
// route pattern when one matched, so round IDs don't explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over connections passing through
// the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
