package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/access"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Insert(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	Transition(ctx context.Context, t transition) (PurchaseOrder, error)
	Delete(ctx context.Context, tenantID, id int64, from []Status) error
}

type txRepo struct {
	tx pgx.Tx
}

const headerColumns = `id, tenant_id, number, supplier_id, warehouse_id, status, total, COALESCE(note, ''),
	created_by, approved_by, approved_at, received_at, cancelled_at, created_at`

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// Get loads an order with its lines.
func (r *Repository) Get(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	q := db.Conn(ctx, r.pool)
	po, err := scanHeader(q.QueryRow(ctx, `SELECT `+headerColumns+` FROM purchase_orders WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, shared.NotFound("purchase order", id)
		}
		return PurchaseOrder{}, fmt.Errorf("procurement: get order: %w", err)
	}
	po.Lines, err = loadLines(ctx, q, po.ID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// List returns order headers newest first. Lines are not loaded.
func (r *Repository) List(ctx context.Context, scope access.Scope, filter ListFilter) ([]PurchaseOrder, error) {
	f := access.NewFilter(scope, "tenant_id", "created_by")
	if filter.Status != "" {
		f.And("status = ?", string(filter.Status))
	}
	if filter.SupplierID > 0 {
		f.And("supplier_id = ?", filter.SupplierID)
	}
	sql := fmt.Sprintf(`SELECT %s FROM purchase_orders %s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s`,
		headerColumns, f.Where(), f.Arg(filter.Page.Limit), f.Arg(filter.Page.Offset))
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, f.Args()...)
	if err != nil {
		return nil, fmt.Errorf("procurement: list orders: %w", err)
	}
	defer rows.Close()
	orders := []PurchaseOrder{}
	for rows.Next() {
		po, err := scanHeader(rows)
		if err != nil {
			return nil, fmt.Errorf("procurement: scan order: %w", err)
		}
		orders = append(orders, po)
	}
	return orders, rows.Err()
}

func (r *txRepo) Insert(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	created, err := scanHeader(r.tx.QueryRow(ctx, `
INSERT INTO purchase_orders (tenant_id, number, supplier_id, warehouse_id, status, total, note, created_by, received_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, NOW(), NOW())
RETURNING `+headerColumns,
		po.TenantID, po.Number, po.SupplierID, po.WarehouseID, string(po.Status), po.Total, po.Note, po.CreatedBy, po.ReceivedAt))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return PurchaseOrder{}, fmt.Errorf("procurement: order number %s: %w", po.Number, shared.ErrDuplicate)
		}
		return PurchaseOrder{}, fmt.Errorf("procurement: insert order: %w", err)
	}
	created.Lines = make([]Line, 0, len(po.Lines))
	for _, line := range po.Lines {
		err := r.tx.QueryRow(ctx, `
INSERT INTO purchase_order_lines (order_id, product_id, sku, name, quantity, unit_cost, subtotal)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			created.ID, line.ProductID, line.SKU, line.Name, line.Quantity, line.UnitCost, line.Subtotal).Scan(&line.ID)
		if err != nil {
			return PurchaseOrder{}, fmt.Errorf("procurement: insert line: %w", err)
		}
		created.Lines = append(created.Lines, line)
	}
	return created, nil
}

// Transition updates the status only while it is still one of t.From.
func (r *txRepo) Transition(ctx context.Context, t transition) (PurchaseOrder, error) {
	from := statusStrings(t.From)
	po, err := scanHeader(r.tx.QueryRow(ctx, `
UPDATE purchase_orders SET
	status = $4::text,
	approved_by = CASE WHEN $4::text = 'APPROVED' THEN $5 ELSE approved_by END,
	approved_at = CASE WHEN $4::text = 'APPROVED' THEN NOW() ELSE approved_at END,
	received_at = CASE WHEN $4::text = 'RECEIVED' THEN NOW() ELSE received_at END,
	cancelled_at = CASE WHEN $4::text = 'CANCELLED' THEN NOW() ELSE cancelled_at END,
	updated_at = NOW()
WHERE tenant_id = $1 AND id = $2 AND status = ANY($3)
RETURNING `+headerColumns, t.TenantID, t.ID, from, string(t.To), t.ActorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, r.rejection(ctx, t.TenantID, t.ID, t.To)
	}
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("procurement: transition order: %w", err)
	}
	po.Lines, err = loadLines(ctx, r.tx, po.ID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (r *txRepo) Delete(ctx context.Context, tenantID, id int64, from []Status) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE tenant_id = $1 AND id = $2 AND status = ANY($3)`,
		tenantID, id, statusStrings(from))
	if err != nil {
		return fmt.Errorf("procurement: delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.rejection(ctx, tenantID, id, "DELETED")
	}
	return nil
}

// rejection explains why a guarded write matched no row.
func (r *txRepo) rejection(ctx context.Context, tenantID, id int64, to Status) error {
	var status string
	err := r.tx.QueryRow(ctx, `SELECT status FROM purchase_orders WHERE tenant_id = $1 AND id = $2`, tenantID, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFound("purchase order", id)
	}
	if err != nil {
		return fmt.Errorf("procurement: read status: %w", err)
	}
	return &shared.InvalidStateTransitionError{Entity: "purchase order", From: status, To: string(to)}
}

func loadLines(ctx context.Context, q db.Querier, orderID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, product_id, sku, name, quantity, unit_cost, subtotal
FROM purchase_order_lines WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("procurement: load lines: %w", err)
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.ProductID, &l.SKU, &l.Name, &l.Quantity, &l.UnitCost, &l.Subtotal); err != nil {
			return nil, fmt.Errorf("procurement: scan line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanHeader(row pgx.Row) (PurchaseOrder, error) {
	var (
		po     PurchaseOrder
		status string
	)
	err := row.Scan(&po.ID, &po.TenantID, &po.Number, &po.SupplierID, &po.WarehouseID, &status, &po.Total, &po.Note,
		&po.CreatedBy, &po.ApprovedBy, &po.ApprovedAt, &po.ReceivedAt, &po.CancelledAt, &po.CreatedAt)
	po.Status = Status(status)
	return po, err
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
