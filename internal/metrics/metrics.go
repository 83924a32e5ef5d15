// Package metrics provides Prometheus instrumentation for the notifier.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PollsTotal counts poll cycles by outcome ("ok" or "error").
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_polls_total",
		Help: "Total number of order poll cycles",
	}, []string{"outcome"})

	// OrdersFetched counts raw orders returned by the brokerage.
	OrdersFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_orders_fetched_total",
		Help: "Raw orders returned by the brokerage API",
	})

	// NormalizationErrors counts orders and trades skipped because they could
	// not be normalized or failed validation.
	NormalizationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_normalization_errors_total",
		Help: "Orders skipped due to missing or invalid fields",
	})

	// TradesProcessed counts allocation results by kind.
	TradesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_trades_processed_total",
		Help: "Trades handled by the allocation engine",
	}, []string{"result"})

	// UnmatchedCloses counts closing trades with quantity left unallocated.
	UnmatchedCloses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_unmatched_closes_total",
		Help: "Closing trades that exceeded tracked open inventory",
	})

	// AllocationLatency tracks the duration of one allocation transaction.
	AllocationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "notifier_allocation_duration_seconds",
		Help:    "Allocation transaction latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	// NotificationsTotal counts notification attempts by sink and outcome.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_notifications_total",
		Help: "Notification attempts",
	}, []string{"sink", "outcome"})

	// OpenLots tracks the number of active lots after each poll.
	OpenLots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notifier_open_lots",
		Help: "Number of lots with quantity remaining",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notifier_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics, labelling by chi route pattern when one matched.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
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
