package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	ApprovalSubmit  ApprovalAction = "SUBMIT"
	ApprovalApprove ApprovalAction = "APPROVE"
	ApprovalCancel  ApprovalAction = "CANCEL"
)

// ApprovalLog represents a single approval record.
type ApprovalLog struct {
	ID       int64          `json:"id"`
	TenantID int64          `json:"tenant_id"`
	Module   string         `json:"module"`
	RefID    uuid.UUID      `json:"ref_id"`
	ActorID  int64          `json:"actor_id"`
	Action   ApprovalAction `json:"action"`
	Note     string         `json:"note,omitempty"`
	At       time.Time      `json:"at"`
}

// ApprovalRef derives the stable approval reference for a module record.
func ApprovalRef(module string, id int64) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", module, id)))
}

// ApprovalRecorder persists approval history.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	return &ApprovalRecorder{pool: pool, logger: logger}
}

// Record writes approval entry to database.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil || r.pool == nil {
		return errors.New("approval recorder not initialised")
	}
	switch {
	case log.TenantID == 0:
		return errors.New("approval tenant required")
	case log.Module == "":
		return errors.New("approval module required")
	case log.ActorID == 0:
		return errors.New("approval actor required")
	case log.RefID == uuid.Nil:
		return errors.New("approval ref id required")
	case log.Action == "":
		return errors.New("approval action required")
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO approvals (tenant_id, module, ref_id, actor_id, action, note, at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`, log.TenantID, log.Module, log.RefID, log.ActorID, string(log.Action), log.Note, at)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("record approval", slog.String("module", log.Module), slog.Any("error", err))
		}
		return err
	}
	return nil
}

// List returns approvals for module/ref.
func (r *ApprovalRecorder) List(ctx context.Context, tenantID int64, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, tenant_id, module, ref_id, actor_id, action, COALESCE(note, ''), at
FROM approvals WHERE tenant_id=$1 AND module=$2 AND ref_id=$3 ORDER BY at ASC, id ASC`, tenantID, module, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	logs := []ApprovalLog{}
	for rows.Next() {
		var l ApprovalLog
		var action string
		if err := rows.Scan(&l.ID, &l.TenantID, &l.Module, &l.RefID, &l.ActorID, &action, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
