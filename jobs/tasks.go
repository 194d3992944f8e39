package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskProjectionRebuild recomputes stock levels from the ledger.
	TaskProjectionRebuild = "stock:projection-rebuild"
	// TaskLowStockScan reports stock levels at or below reorder level.
	TaskLowStockScan = "stock:low-stock-scan"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "stock:idempotency-cleanup"
)

// TenantPayload scopes a job to one tenant. Zero means every tenant.
type TenantPayload struct {
	TenantID int64 `json:"tenant_id"`
}

// CleanupPayload carries the retention window for key cleanup.
type CleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewProjectionRebuildTask builds a rebuild task.
func NewProjectionRebuildTask(tenantID int64) (*asynq.Task, error) {
	return newTenantTask(TaskProjectionRebuild, tenantID)
}

// NewLowStockScanTask builds a low-stock scan task.
func NewLowStockScanTask(tenantID int64) (*asynq.Task, error) {
	return newTenantTask(TaskLowStockScan, tenantID)
}

// NewIdempotencyCleanupTask builds a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

func newTenantTask(taskType string, tenantID int64) (*asynq.Task, error) {
	if tenantID < 0 {
		tenantID = 0
	}
	body, err := json.Marshal(TenantPayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

func decodeTenant(t *asynq.Task) (TenantPayload, error) {
	var payload TenantPayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, asynq.SkipRetry
	}
	return payload, nil
}
