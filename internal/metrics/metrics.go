// Package metrics provides Prometheus instrumentation for the bean exchange.
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

	"github.com/atmx/bean-exchange/internal/apperr"
)

var (
	// TradesTotal counts committed trades, partitioned by kind
	// (pool_buy, pool_sell, offer_fill_buyer, offer_fill_seller).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bean_trades_total",
		Help: "Total number of trades committed",
	}, []string{"kind"})

	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bean_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// TradeRejections counts trades that failed, by kind and error code.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bean_trade_rejections_total",
		Help: "Trades rejected or rolled back",
	}, []string{"kind", "code"})

	// TradeVolume tracks cumulative traded quantity per commodity.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bean_trade_volume_total",
		Help: "Cumulative trade volume in beans",
	}, []string{"commodity"})

	// PriceTicks counts recorded price movements by tier.
	PriceTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bean_price_ticks_total",
		Help: "Price ticks recorded",
	}, []string{"tier"})

	// NotificationsFailed counts best-effort notifications that could not
	// be delivered.
	NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bean_notifications_failed_total",
		Help: "Notifications that failed to deliver",
	}, []string{"sink"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bean_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// JobRuns counts scheduler job runs by job and result (ok, error, panic).
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bean_job_runs_total",
		Help: "Scheduler job runs",
	}, []string{"job", "result"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bean_job_duration_seconds",
		Help:    "Scheduler job run time in seconds",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"job"})

	// LedgerViolations is the number of broken ledger invariants found by
	// the last check.
	LedgerViolations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bean_ledger_invariant_violations",
		Help: "Ledger invariant violations found by the last check",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bean_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bean_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveTrade records the outcome of one trade attempt that started at
// start.
func ObserveTrade(kind string, start time.Time, err error) {
	TradeLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		TradeRejections.WithLabelValues(kind, apperr.CodeOf(err).String()).Inc()
		return
	}
	TradesTotal.WithLabelValues(kind).Inc()
}

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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
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

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
