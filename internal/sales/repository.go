package sales

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

// Repository persists sales orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Insert(ctx context.Context, order Order) (Order, error)
}

type txRepo struct {
	tx pgx.Tx
}

const orderColumns = `id, tenant_id, number, status, total, stock_deducted, COALESCE(note, ''), created_by, created_at`

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// Get loads an order with its lines.
func (r *Repository) Get(ctx context.Context, tenantID, id int64) (Order, error) {
	q := db.Conn(ctx, r.pool)
	order, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM sales_orders WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, shared.NotFound("sales order", id)
		}
		return Order{}, fmt.Errorf("sales: get order: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT id, product_id, warehouse_id, sku, name, quantity, price, subtotal
FROM sales_order_lines WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return Order{}, fmt.Errorf("sales: load lines: %w", err)
	}
	defer rows.Close()
	order.Lines = []Line{}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.ProductID, &l.WarehouseID, &l.SKU, &l.Name, &l.Quantity, &l.Price, &l.Subtotal); err != nil {
			return Order{}, fmt.Errorf("sales: scan line: %w", err)
		}
		order.Lines = append(order.Lines, l)
	}
	return order, rows.Err()
}

// List returns order headers newest first.
func (r *Repository) List(ctx context.Context, scope access.Scope, filter ListFilter) ([]Order, error) {
	f := access.NewFilter(scope, "tenant_id", "created_by")
	if filter.Status != "" {
		f.And("status = ?", string(filter.Status))
	}
	sql := fmt.Sprintf(`SELECT %s FROM sales_orders %s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s`,
		orderColumns, f.Where(), f.Arg(filter.Page.Limit), f.Arg(filter.Page.Offset))
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, f.Args()...)
	if err != nil {
		return nil, fmt.Errorf("sales: list orders: %w", err)
	}
	defer rows.Close()
	orders := []Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("sales: scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (r *txRepo) Insert(ctx context.Context, order Order) (Order, error) {
	created, err := scanOrder(r.tx.QueryRow(ctx, `
INSERT INTO sales_orders (tenant_id, number, status, total, stock_deducted, note, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NOW())
RETURNING `+orderColumns,
		order.TenantID, order.Number, string(order.Status), order.Total, order.StockDeducted, order.Note, order.CreatedBy))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Order{}, fmt.Errorf("sales: order number %s: %w", order.Number, shared.ErrDuplicate)
		}
		return Order{}, fmt.Errorf("sales: insert order: %w", err)
	}
	created.Lines = make([]Line, 0, len(order.Lines))
	for _, line := range order.Lines {
		err := r.tx.QueryRow(ctx, `
INSERT INTO sales_order_lines (order_id, product_id, warehouse_id, sku, name, quantity, price, subtotal)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			created.ID, line.ProductID, line.WarehouseID, line.SKU, line.Name, line.Quantity, line.Price, line.Subtotal).Scan(&line.ID)
		if err != nil {
			return Order{}, fmt.Errorf("sales: insert line: %w", err)
		}
		created.Lines = append(created.Lines, line)
	}
	return created, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.TenantID, &o.Number, &status, &o.Total, &o.StockDeducted, &o.Note, &o.CreatedBy, &o.CreatedAt)
	o.Status = Status(status)
	return o, err
}
