package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `stockledger_http_requests_total{code="418",route="/test"} 1`)
	assert.Contains(t, body, `stockledger_http_request_duration_seconds_bucket{route="/test"`)
}

func TestMetricsUnknownRoute(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Contains(t, scrape(t, metrics), `stockledger_http_requests_total{code="200",route="unknown"} 1`)
}

func TestDomainCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveEntry("OUT", "SALE")
	metrics.ObserveEntry("OUT", "SALE")
	metrics.ObserveRejection("SALE")
	metrics.ObserveWarning("CRITICAL")
	metrics.ObserveTransition("purchase_order", "PENDING", "APPROVED")

	body := scrape(t, metrics)
	assert.Contains(t, body, `stockledger_ledger_entries_total{direction="OUT",reason="SALE"} 2`)
	assert.Contains(t, body, `stockledger_ledger_rejections_total{reason="SALE"} 1`)
	assert.Contains(t, body, `stockledger_stock_warnings_total{level="CRITICAL"} 1`)
	assert.Contains(t, body, `stockledger_order_transitions_total{from="PENDING",module="purchase_order",to="APPROVED"} 1`)
}

func TestNilMetrics(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveEntry("IN", "RECEIPT")
	metrics.ObserveTransition("purchase_order", "PENDING", "CANCELLED")

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, metrics.Middleware(next))
}
