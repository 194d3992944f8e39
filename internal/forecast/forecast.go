// Package forecast projects when stock runs out from recent outbound movements.
package forecast

import (
	"context"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockledger/internal/access"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// DefaultWindowDays is the trailing window used when none is configured.
const DefaultWindowDays = 30

const maxParallel = 8

// StockHistory is the ledger read model the forecaster consumes.
type StockHistory interface {
	SumOutbound(ctx context.Context, scope access.Scope, productID int64, since time.Time) (int64, error)
	AggregateLevels(ctx context.Context, scope access.Scope, productID int64) (ledger.Aggregate, error)
	ProductsWithStock(ctx context.Context, scope access.Scope) ([]int64, error)
}

// Forecast is the depletion outlook of one product across every warehouse.
// Nil day counts mean the product is not being consumed.
type Forecast struct {
	ProductID           int64    `json:"product_id"`
	CurrentStock        int64    `json:"current_stock"`
	ReorderLevel        int64    `json:"reorder_level"`
	AvgDailyConsumption float64  `json:"avg_daily_consumption"`
	DaysRemaining       *float64 `json:"days_remaining"`
	DaysToReorder       *float64 `json:"days_to_reorder"`
	Depletes            bool     `json:"depletes"`
	WindowDays          int      `json:"window_days"`
}

// Service computes forecasts.
type Service struct {
	history    StockHistory
	windowDays int
	now        func() time.Time
}

// NewService builds the forecaster. A non-positive window falls back to DefaultWindowDays.
func NewService(history StockHistory, windowDays int) *Service {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &Service{history: history, windowDays: windowDays, now: time.Now}
}

// AverageDailyConsumption is the OUT quantity over the trailing window divided by its length.
func (s *Service) AverageDailyConsumption(ctx context.Context, scope access.Scope, productID int64, windowDays int) (float64, error) {
	if productID <= 0 {
		return 0, shared.Invalid("product_id", "is required")
	}
	if windowDays <= 0 {
		windowDays = s.windowDays
	}
	since := s.now().AddDate(0, 0, -windowDays)
	total, err := s.history.SumOutbound(ctx, scope, productID, since)
	if err != nil {
		return 0, err
	}
	if total <= 0 {
		return 0, nil
	}
	return float64(total) / float64(windowDays), nil
}

// PredictDepletion forecasts a single product.
func (s *Service) PredictDepletion(ctx context.Context, scope access.Scope, productID int64) (Forecast, error) {
	avg, err := s.AverageDailyConsumption(ctx, scope, productID, s.windowDays)
	if err != nil {
		return Forecast{}, err
	}
	agg, err := s.history.AggregateLevels(ctx, scope, productID)
	if err != nil {
		return Forecast{}, err
	}
	return project(productID, agg, avg, s.windowDays), nil
}

// ForecastDepletion forecasts one product, or every stocked product of the scope when productID is 0.
func (s *Service) ForecastDepletion(ctx context.Context, scope access.Scope, productID int64) ([]Forecast, error) {
	if scope.TenantID <= 0 {
		return nil, shared.Invalid("tenant_id", "is required")
	}
	if productID > 0 {
		f, err := s.PredictDepletion(ctx, scope, productID)
		if err != nil {
			return nil, err
		}
		return []Forecast{f}, nil
	}
	ids, err := s.history.ProductsWithStock(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]Forecast, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i, id := range ids {
		g.Go(func() error {
			f, err := s.PredictDepletion(ctx, scope, id)
			if err != nil {
				return err
			}
			out[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(a, b int) bool { return soonest(out[a], out[b]) })
	return out, nil
}

func project(productID int64, agg ledger.Aggregate, avg float64, windowDays int) Forecast {
	f := Forecast{
		ProductID:           productID,
		CurrentStock:        agg.OnHand,
		ReorderLevel:        agg.ReorderLevel,
		AvgDailyConsumption: round(avg),
		WindowDays:          windowDays,
	}
	if avg <= 0 {
		return f
	}
	remaining := round(math.Max(float64(agg.OnHand)/avg, 0))
	toReorder := round(math.Max(float64(agg.OnHand-agg.ReorderLevel)/avg, 0))
	f.DaysRemaining = &remaining
	f.DaysToReorder = &toReorder
	f.Depletes = true
	return f
}

// soonest orders depleting products first, earliest first.
func soonest(a, b Forecast) bool {
	switch {
	case a.DaysRemaining == nil && b.DaysRemaining == nil:
		return a.ProductID < b.ProductID
	case a.DaysRemaining == nil:
		return false
	case b.DaysRemaining == nil:
		return true
	case *a.DaysRemaining != *b.DaysRemaining:
		return *a.DaysRemaining < *b.DaysRemaining
	}
	return a.ProductID < b.ProductID
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
