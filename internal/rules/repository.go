package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// Repository persists rule policies in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const policyColumns = `tenant_id, allow_negative_stock, low_stock_threshold, critical_stock_threshold,
enable_low_stock_alert, auto_update_stock, require_approval_for_removal, auto_receive_purchase,
auto_deduct_sales, enable_barcode_scanning, track_serial_numbers, track_batches, track_expiry, updated_at`

// GetOrCreate inserts defaults when the tenant has no row yet and returns the stored policy.
func (r *Repository) GetOrCreate(ctx context.Context, defaults Policy) (Policy, error) {
	if r == nil || r.pool == nil {
		return Policy{}, errors.New("rules repository not initialised")
	}
	q := db.Conn(ctx, r.pool)
	_, err := q.Exec(ctx, `INSERT INTO rule_policies (`+policyColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW())
ON CONFLICT (tenant_id) DO NOTHING`, policyArgs(defaults)...)
	if err != nil {
		return Policy{}, fmt.Errorf("rules: insert defaults: %w", err)
	}
	policy, err := scanPolicy(q.QueryRow(ctx, `SELECT `+policyColumns+` FROM rule_policies WHERE tenant_id=$1`, defaults.TenantID))
	if err != nil {
		return Policy{}, fmt.Errorf("rules: load policy: %w", err)
	}
	return policy, nil
}

// Update applies apply to the locked policy row. Concurrent updates of one tenant
// serialise on the row lock, so neither patch is lost.
func (r *Repository) Update(ctx context.Context, defaults Policy, apply func(Policy) (Policy, error)) (Policy, error) {
	if r == nil || r.pool == nil {
		return Policy{}, errors.New("rules repository not initialised")
	}
	var saved Policy
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO rule_policies (`+policyColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW())
ON CONFLICT (tenant_id) DO NOTHING`, policyArgs(defaults)...)
		if err != nil {
			return fmt.Errorf("rules: insert defaults: %w", err)
		}
		current, err := scanPolicy(tx.QueryRow(ctx, `SELECT `+policyColumns+` FROM rule_policies WHERE tenant_id=$1 FOR UPDATE`, defaults.TenantID))
		if err != nil {
			return fmt.Errorf("rules: lock policy: %w", err)
		}
		next, err := apply(current)
		if err != nil {
			return err
		}
		saved, err = save(ctx, tx, next)
		return err
	})
	if err != nil {
		return Policy{}, err
	}
	return saved, nil
}

func save(ctx context.Context, q db.Querier, p Policy) (Policy, error) {
	row := q.QueryRow(ctx, `INSERT INTO rule_policies (`+policyColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW())
ON CONFLICT (tenant_id) DO UPDATE SET
	allow_negative_stock=EXCLUDED.allow_negative_stock,
	low_stock_threshold=EXCLUDED.low_stock_threshold,
	critical_stock_threshold=EXCLUDED.critical_stock_threshold,
	enable_low_stock_alert=EXCLUDED.enable_low_stock_alert,
	auto_update_stock=EXCLUDED.auto_update_stock,
	require_approval_for_removal=EXCLUDED.require_approval_for_removal,
	auto_receive_purchase=EXCLUDED.auto_receive_purchase,
	auto_deduct_sales=EXCLUDED.auto_deduct_sales,
	enable_barcode_scanning=EXCLUDED.enable_barcode_scanning,
	track_serial_numbers=EXCLUDED.track_serial_numbers,
	track_batches=EXCLUDED.track_batches,
	track_expiry=EXCLUDED.track_expiry,
	updated_at=NOW()
RETURNING `+policyColumns, policyArgs(p)...)
	saved, err := scanPolicy(row)
	if err != nil {
		return Policy{}, fmt.Errorf("rules: save policy: %w", err)
	}
	return saved, nil
}

func policyArgs(p Policy) []any {
	return []any{
		p.TenantID, p.AllowNegativeStock, p.LowStockThreshold, p.CriticalStockThreshold,
		p.EnableLowStockAlert, p.AutoUpdateStock, p.RequireApprovalForRemoval, p.AutoReceivePurchase,
		p.AutoDeductSales, p.EnableBarcodeScanning, p.TrackSerialNumbers, p.TrackBatches, p.TrackExpiry,
	}
}

func scanPolicy(row pgx.Row) (Policy, error) {
	var p Policy
	err := row.Scan(&p.TenantID, &p.AllowNegativeStock, &p.LowStockThreshold, &p.CriticalStockThreshold,
		&p.EnableLowStockAlert, &p.AutoUpdateStock, &p.RequireApprovalForRemoval, &p.AutoReceivePurchase,
		&p.AutoDeductSales, &p.EnableBarcodeScanning, &p.TrackSerialNumbers, &p.TrackBatches, &p.TrackExpiry, &p.UpdatedAt)
	return p, err
}
