// Package metrics provides Prometheus instrumentation for the practice
// engine.
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
	// TradesOpened counts opened positions, partitioned by side.
	TradesOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simutrade_trades_opened_total",
		Help: "Total number of positions opened",
	}, []string{"side"})

	// TradesClosed counts closed trades, partitioned by side and P&L sign.
	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simutrade_trades_closed_total",
		Help: "Total number of positions closed",
	}, []string{"side", "outcome"})

	// TradeRejections counts rejected trade commands by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simutrade_trade_rejections_total",
		Help: "Trade commands rejected before any mutation",
	}, []string{"reason"})

	// MarginCalls counts settlements that drove a balance negative.
	MarginCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simutrade_margin_calls_total",
		Help: "Settlements that left a balance below zero",
	})

	// Ticks counts simulator ticks.
	Ticks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simutrade_ticks_total",
		Help: "Total simulator ticks published",
	})

	// OpenPositions tracks currently open positions across all sessions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simutrade_open_positions",
		Help: "Number of currently open positions",
	})

	// ActiveScenarios tracks running practice scenarios.
	ActiveScenarios = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simutrade_active_scenarios",
		Help: "Number of currently active scenarios",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simutrade_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// FeedbackFallbacks counts feedback served by the local rule adapter.
	FeedbackFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simutrade_feedback_fallbacks_total",
		Help: "Feedback responses produced by the local fallback",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simutrade_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "simutrade_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
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
