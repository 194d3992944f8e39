package forecast

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/access"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type stubHistory struct {
	mu       sync.Mutex
	outbound map[int64]int64
	levels   map[int64]ledger.Aggregate
	since    time.Time
	err      error
}

func (s *stubHistory) SumOutbound(ctx context.Context, scope access.Scope, productID int64, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = since
	return s.outbound[productID], s.err
}

func (s *stubHistory) AggregateLevels(ctx context.Context, scope access.Scope, productID int64) (ledger.Aggregate, error) {
	return s.levels[productID], nil
}

func (s *stubHistory) ProductsWithStock(ctx context.Context, scope access.Scope) ([]int64, error) {
	ids := make([]int64, 0, len(s.levels))
	for id := range s.levels {
		ids = append(ids, id)
	}
	return ids, nil
}

var scope = access.Scope{TenantID: 1, ActorID: 1, Role: shared.RoleAdmin}

func fixedService(h StockHistory) *Service {
	svc := NewService(h, 0)
	svc.now = func() time.Time { return time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestAverageDailyConsumption(t *testing.T) {
	h := &stubHistory{outbound: map[int64]int64{1: 60}}
	svc := fixedService(h)

	avg, err := svc.AverageDailyConsumption(context.Background(), scope, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, avg)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), h.since)

	avg, err = svc.AverageDailyConsumption(context.Background(), scope, 2, 0)
	require.NoError(t, err)
	assert.Zero(t, avg)

	_, err = svc.AverageDailyConsumption(context.Background(), scope, 0, 0)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPredictDepletion(t *testing.T) {
	h := &stubHistory{
		outbound: map[int64]int64{1: 60},
		levels:   map[int64]ledger.Aggregate{1: {OnHand: 50, ReorderLevel: 20}},
	}
	f, err := fixedService(h).PredictDepletion(context.Background(), scope, 1)
	require.NoError(t, err)
	require.NotNil(t, f.DaysRemaining)
	assert.Equal(t, 25.0, *f.DaysRemaining)
	assert.Equal(t, 15.0, *f.DaysToReorder)
	assert.True(t, f.Depletes)
}

func TestPredictDepletionWithoutConsumptionIsUnbounded(t *testing.T) {
	h := &stubHistory{levels: map[int64]ledger.Aggregate{1: {OnHand: 50}}}
	f, err := fixedService(h).PredictDepletion(context.Background(), scope, 1)
	require.NoError(t, err)
	assert.Nil(t, f.DaysRemaining)
	assert.Nil(t, f.DaysToReorder)
	assert.False(t, f.Depletes)
	assert.Zero(t, f.AvgDailyConsumption)
}

func TestDaysToReorderFloorsAtZero(t *testing.T) {
	h := &stubHistory{
		outbound: map[int64]int64{1: 30},
		levels:   map[int64]ledger.Aggregate{1: {OnHand: 5, ReorderLevel: 20}},
	}
	f, err := fixedService(h).PredictDepletion(context.Background(), scope, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, *f.DaysToReorder)
	assert.Equal(t, 5.0, *f.DaysRemaining)
}

func TestForecastDepletionAllProducts(t *testing.T) {
	h := &stubHistory{
		outbound: map[int64]int64{1: 30, 2: 300},
		levels: map[int64]ledger.Aggregate{
			1: {OnHand: 100},
			2: {OnHand: 100},
			3: {OnHand: 100},
		},
	}
	out, err := fixedService(h).ForecastDepletion(context.Background(), scope, 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, int64(2), out[0].ProductID)
	assert.Equal(t, int64(1), out[1].ProductID)
	assert.Equal(t, int64(3), out[2].ProductID)
	assert.Nil(t, out[2].DaysRemaining)
}

func TestForecastDepletionPropagatesErrors(t *testing.T) {
	h := &stubHistory{levels: map[int64]ledger.Aggregate{1: {}}, err: errors.New("db down")}
	_, err := fixedService(h).ForecastDepletion(context.Background(), scope, 0)
	require.Error(t, err)

	_, err = fixedService(h).ForecastDepletion(context.Background(), access.Scope{}, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestForecastHandler(t *testing.T) {
	h := &stubHistory{outbound: map[int64]int64{1: 30}, levels: map[int64]ledger.Aggregate{1: {OnHand: 10}}}
	router := chi.NewRouter()
	NewHandler(nil, fixedService(h)).MountRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/?product_id=1", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{ID: 1, TenantID: 1, Role: shared.RoleUser}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"days_remaining":10`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
