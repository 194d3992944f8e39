package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the HTTP surface and the stock domain.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	entriesTotal    *prometheus.CounterVec
	rejectionsTotal *prometheus.CounterVec
	warningsTotal   *prometheus.CounterVec
	transitions     *prometheus.CounterVec
}

// NewMetrics initialises a private registry with the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockledger_http_request_duration_seconds",
		Help:    "HTTP request latency per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_ledger_entries_total",
		Help: "Ledger entries appended by direction and reason.",
	}, []string{"direction", "reason"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_ledger_rejections_total",
		Help: "Stock movements rejected for insufficient stock.",
	}, []string{"reason"})
	warnings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_stock_warnings_total",
		Help: "Stock warnings raised by level.",
	}, []string{"level"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_order_transitions_total",
		Help: "Order status transitions by module.",
	}, []string{"module", "from", "to"})
	registry.MustRegister(requests, duration, entries, rejections, warnings, transitions)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		entriesTotal:    entries,
		rejectionsTotal: rejections,
		warningsTotal:   warnings,
		transitions:     transitions,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency keyed by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for collectors owned by other packages.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveEntry counts an appended ledger entry.
func (m *Metrics) ObserveEntry(direction, reason string) {
	if m == nil {
		return
	}
	m.entriesTotal.WithLabelValues(direction, reason).Inc()
}

// ObserveRejection counts a movement refused by the rule engine.
func (m *Metrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

// ObserveWarning counts a stock warning.
func (m *Metrics) ObserveWarning(level string) {
	if m == nil {
		return
	}
	m.warningsTotal.WithLabelValues(level).Inc()
}

// ObserveTransition counts an order status change.
func (m *Metrics) ObserveTransition(module, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(module, from, to).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
