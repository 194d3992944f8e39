package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/ledger"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// TenantLister discovers tenants that own stock data.
type TenantLister interface {
	TenantIDs(ctx context.Context) ([]int64, error)
}

// ProjectionRebuilder recomputes one tenant's stock levels.
type ProjectionRebuilder interface {
	Rebuild(ctx context.Context, tenantID int64) (ledger.RebuildResult, error)
}

// ProjectionRebuildJob walks tenants and repairs projection drift.
type ProjectionRebuildJob struct {
	Tenants TenantLister
	Ledger  ProjectionRebuilder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewProjectionRebuildJob constructs the job handler.
func NewProjectionRebuildJob(tenants TenantLister, ledgerSvc ProjectionRebuilder, logger *slog.Logger, metrics *jobmetrics.Metrics) *ProjectionRebuildJob {
	return &ProjectionRebuildJob{Tenants: tenants, Ledger: ledgerSvc, Logger: logger, Metrics: metrics}
}

// Handle executes the rebuild.
func (j *ProjectionRebuildJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Tenants == nil || j.Ledger == nil {
		return errors.New("projection rebuild: dependencies not configured")
	}
	payload, err := decodeTenant(t)
	if err != nil {
		return err
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskProjectionRebuild)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskProjectionRebuild)
	tenants, err := resolveTenants(ctx, j.Tenants, payload.TenantID)
	if err != nil {
		resultErr = err
		logger.Error("list tenants", slog.Any("error", err))
		return resultErr
	}

	start := time.Now()
	keys, corrected := 0, 0
	for _, tenantID := range tenants {
		res, err := j.Ledger.Rebuild(ctx, tenantID)
		if err != nil {
			resultErr = err
			logger.Error("rebuild tenant", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
			return resultErr
		}
		keys += res.Keys
		corrected += res.Corrected
		metricsOrDefault(j.Metrics).AddCorrections(tenantID, res.Corrected)
	}

	logger.Info("rebuilt stock projection",
		slog.Int("tenants", len(tenants)),
		slog.Int("keys", keys),
		slog.Int("corrected", corrected),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func resolveTenants(ctx context.Context, lister TenantLister, tenantID int64) ([]int64, error) {
	if tenantID > 0 {
		return []int64{tenantID}, nil
	}
	return lister.TenantIDs(ctx)
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger != nil {
		return logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}
