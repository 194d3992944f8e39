package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/ledger"
)

// LowStockReader lists levels at or below reorder level.
type LowStockReader interface {
	LowStock(ctx context.Context, tenantID int64) ([]ledger.Level, error)
}

// LowStockScanJob logs replenishment candidates per tenant.
type LowStockScanJob struct {
	Tenants TenantLister
	Levels  LowStockReader
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockScanJob constructs the job handler.
func NewLowStockScanJob(tenants TenantLister, levels LowStockReader, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Tenants: tenants, Levels: levels, Logger: logger, Metrics: metrics}
}

// Handle executes the scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Tenants == nil || j.Levels == nil {
		return errors.New("low stock scan: dependencies not configured")
	}
	payload, err := decodeTenant(t)
	if err != nil {
		return err
	}

	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskLowStockScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskLowStockScan)
	tenants, err := resolveTenants(ctx, j.Tenants, payload.TenantID)
	if err != nil {
		resultErr = err
		logger.Error("list tenants", slog.Any("error", err))
		return resultErr
	}

	total := 0
	for _, tenantID := range tenants {
		levels, err := j.Levels.LowStock(ctx, tenantID)
		if err != nil {
			resultErr = err
			logger.Error("scan tenant", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
			return resultErr
		}
		for _, lvl := range levels {
			logger.Warn("stock at reorder level",
				slog.Int64("tenant_id", tenantID),
				slog.Int64("product_id", lvl.ProductID),
				slog.Int64("warehouse_id", lvl.WarehouseID),
				slog.Int64("on_hand", lvl.OnHand),
				slog.Int64("reorder_level", lvl.ReorderLevel),
			)
		}
		metrics.SetLowStock(tenantID, len(levels))
		total += len(levels)
	}

	logger.Info("completed low stock scan", slog.Int("tenants", len(tenants)), slog.Int("levels", total))
	return resultErr
}
