// Package metrics provides Prometheus instrumentation for the challenge engine.
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
	// RoundsSettled counts committed rounds, partitioned by whether the
	// round was the Finals.
	RoundsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "challenge_rounds_settled_total",
		Help: "Total number of rounds settled",
	}, []string{"final"})

	// SettlementLatency measures load → settle → commit for one round.
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "challenge_settlement_latency_seconds",
		Help:    "Round settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SettlementRejections counts trade batches rejected before any state
	// change, by kind (spending_limit, position).
	SettlementRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "challenge_settlement_rejections_total",
		Help: "Trade batches rejected by the spending guard or position ledger",
	}, []string{"kind"})

	// TradesSettled counts accepted trades, partitioned by asset.
	TradesSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "challenge_trades_settled_total",
		Help: "Total number of trades settled",
	}, []string{"asset"})

	// DroppedRows counts malformed trade rows skipped by the parser.
	DroppedRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "challenge_dropped_trade_rows_total",
		Help: "Trade rows dropped for a missing player, team, action or quantity",
	})

	// UnpricedTeams counts teams traded without a published price.
	UnpricedTeams = promauto.NewCounter(prometheus.CounterOpts{
		Name: "challenge_unpriced_teams_total",
		Help: "Traded teams missing from the round's price table",
	})

	// PlayersSettled tracks how many players received a payout per round.
	PlayersSettled = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "challenge_players_settled",
		Help:    "Players with a payout in a settled round",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "challenge_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "challenge_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "challenge_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route pattern (".../rounds/{round}/settle")
// rather than raw path, keeping tournament IDs out of label values.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack passes through to the underlying writer so WebSocket upgrades
// work behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
