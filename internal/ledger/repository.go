package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/access"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository persists ledger entries and stock levels in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LockLevel(ctx context.Context, key Key, actorID int64) (Level, error)
	SumEntries(ctx context.Context, key Key) (int64, error)
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	SetOnHand(ctx context.Context, key Key, onHand int64) (Level, error)
	SetThresholds(ctx context.Context, key Key, reorderLevel, minStock int64) (Level, error)
	GetEntry(ctx context.Context, tenantID, id int64) (Entry, error)
	DeleteEntry(ctx context.Context, tenantID, id int64) error
}

type txRepo struct {
	tx pgx.Tx
}

const levelColumns = `tenant_id, product_id, warehouse_id, on_hand, reserved, reorder_level, min_stock, created_by, updated_at`

const entryColumns = `id, tenant_id, product_id, warehouse_id, direction, sign, quantity, reason, actor_id,
	COALESCE(ref_module, ''), COALESCE(ref_id, ''), COALESCE(note, ''), created_at`

// WithTx executes the callback inside a repeatable-read transaction, joining one already carried by ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// Balance recomputes the signed sum of every entry for a key.
func (r *Repository) Balance(ctx context.Context, tenantID, productID, warehouseID int64) (int64, error) {
	return sumEntries(ctx, db.Conn(ctx, r.pool), Key{TenantID: tenantID, ProductID: productID, WarehouseID: warehouseID})
}

// ListEntries returns entries newest first.
func (r *Repository) ListEntries(ctx context.Context, scope access.Scope, filter EntryFilter) ([]Entry, error) {
	f := access.NewFilter(scope, "tenant_id", "actor_id")
	if filter.ProductID > 0 {
		f.And("product_id = ?", filter.ProductID)
	}
	if filter.WarehouseID > 0 {
		f.And("warehouse_id = ?", filter.WarehouseID)
	}
	if filter.Direction != "" {
		f.And("direction = ?", string(filter.Direction))
	}
	if !filter.From.IsZero() {
		f.And("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		f.And("created_at < ?", filter.To)
	}
	sql := fmt.Sprintf(`SELECT %s FROM stock_ledger_entries %s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s`,
		entryColumns, f.Where(), f.Arg(filter.Page.Normalize().Limit), f.Arg(filter.Page.Normalize().Offset))
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, f.Args()...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListLevels returns projections ordered by key.
func (r *Repository) ListLevels(ctx context.Context, scope access.Scope, filter LevelFilter) ([]Level, error) {
	f := access.NewFilter(scope, "tenant_id", "created_by")
	if filter.ProductID > 0 {
		f.And("product_id = ?", filter.ProductID)
	}
	if filter.WarehouseID > 0 {
		f.And("warehouse_id = ?", filter.WarehouseID)
	}
	where := f.Where()
	if filter.BelowReorder {
		where += " AND reorder_level > 0 AND on_hand <= reorder_level"
	}
	page := filter.Page.Normalize()
	sql := fmt.Sprintf(`SELECT %s FROM stock_levels %s ORDER BY product_id, warehouse_id LIMIT %s OFFSET %s`,
		levelColumns, where, f.Arg(page.Limit), f.Arg(page.Offset))
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, f.Args()...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list levels: %w", err)
	}
	defer rows.Close()

	levels := []Level{}
	for rows.Next() {
		level, err := scanLevel(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan level: %w", err)
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

// TenantKeys lists every key that has a projection or a ledger entry.
func (r *Repository) TenantKeys(ctx context.Context, tenantID int64) ([]Key, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
SELECT product_id, warehouse_id FROM stock_levels WHERE tenant_id = $1
UNION
SELECT DISTINCT product_id, warehouse_id FROM stock_ledger_entries WHERE tenant_id = $1
ORDER BY 1, 2`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("ledger: tenant keys: %w", err)
	}
	defer rows.Close()
	var keys []Key
	for rows.Next() {
		key := Key{TenantID: tenantID}
		if err := rows.Scan(&key.ProductID, &key.WarehouseID); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// TenantIDs lists tenants that own stock data. Used by background jobs.
func (r *Repository) TenantIDs(ctx context.Context) ([]int64, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT DISTINCT tenant_id FROM stock_levels ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("ledger: tenant ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SumOutbound totals OUT quantities for a product since the given instant, within scope.
func (r *Repository) SumOutbound(ctx context.Context, scope access.Scope, productID int64, since time.Time) (int64, error) {
	f := access.NewFilter(scope, "tenant_id", "actor_id").
		And("product_id = ?", productID).
		And("direction = ?", string(DirectionOut)).
		And("created_at >= ?", since)
	var total int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0)::BIGINT FROM stock_ledger_entries `+f.Where(), f.Args()...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("ledger: sum outbound: %w", err)
	}
	return total, nil
}

// AggregateLevels sums on-hand and reorder levels of a product across warehouses, within scope.
func (r *Repository) AggregateLevels(ctx context.Context, scope access.Scope, productID int64) (Aggregate, error) {
	f := access.NewFilter(scope, "tenant_id", "created_by").And("product_id = ?", productID)
	var agg Aggregate
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COALESCE(SUM(on_hand), 0)::BIGINT, COALESCE(SUM(reorder_level), 0)::BIGINT FROM stock_levels `+f.Where(),
		f.Args()...).Scan(&agg.OnHand, &agg.ReorderLevel)
	if err != nil {
		return Aggregate{}, fmt.Errorf("ledger: aggregate levels: %w", err)
	}
	return agg, nil
}

// ProductsWithStock lists products that have at least one projection row within scope.
func (r *Repository) ProductsWithStock(ctx context.Context, scope access.Scope) ([]int64, error) {
	f := access.NewFilter(scope, "tenant_id", "created_by")
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT DISTINCT product_id FROM stock_levels `+f.Where()+` ORDER BY product_id`, f.Args()...)
	if err != nil {
		return nil, fmt.Errorf("ledger: products with stock: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LockLevel creates the projection row on first touch and locks it for the rest of the transaction.
func (r *txRepo) LockLevel(ctx context.Context, key Key, actorID int64) (Level, error) {
	_, err := r.tx.Exec(ctx, `
INSERT INTO stock_levels (tenant_id, product_id, warehouse_id, on_hand, reserved, reorder_level, min_stock, created_by, updated_at)
VALUES ($1, $2, $3, 0, 0, 0, 0, $4, NOW())
ON CONFLICT (tenant_id, product_id, warehouse_id) DO NOTHING`,
		key.TenantID, key.ProductID, key.WarehouseID, actorID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Level{}, shared.NotFound("product/warehouse", fmt.Sprintf("%d/%d", key.ProductID, key.WarehouseID))
		}
		return Level{}, fmt.Errorf("ledger: ensure level: %w", err)
	}
	row := r.tx.QueryRow(ctx, `SELECT `+levelColumns+` FROM stock_levels
WHERE tenant_id = $1 AND product_id = $2 AND warehouse_id = $3 FOR UPDATE`,
		key.TenantID, key.ProductID, key.WarehouseID)
	level, err := scanLevel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Level{}, ErrLevelNotFound
		}
		return Level{}, fmt.Errorf("ledger: lock level: %w", err)
	}
	return level, nil
}

func (r *txRepo) SumEntries(ctx context.Context, key Key) (int64, error) {
	return sumEntries(ctx, r.tx, key)
}

func (r *txRepo) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	row := r.tx.QueryRow(ctx, `
INSERT INTO stock_ledger_entries (tenant_id, product_id, warehouse_id, direction, sign, quantity, reason, actor_id, ref_module, ref_id, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NOW())
RETURNING `+entryColumns,
		entry.TenantID, entry.ProductID, entry.WarehouseID, string(entry.Direction), entry.Sign, entry.Quantity,
		string(entry.Reason), entry.ActorID, entry.RefModule, entry.RefID, entry.Note)
	saved, err := scanEntry(row)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: insert entry: %w", err)
	}
	return saved, nil
}

func (r *txRepo) SetOnHand(ctx context.Context, key Key, onHand int64) (Level, error) {
	row := r.tx.QueryRow(ctx, `UPDATE stock_levels SET on_hand = $4, updated_at = NOW()
WHERE tenant_id = $1 AND product_id = $2 AND warehouse_id = $3
RETURNING `+levelColumns, key.TenantID, key.ProductID, key.WarehouseID, onHand)
	level, err := scanLevel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Level{}, ErrLevelNotFound
		}
		return Level{}, fmt.Errorf("ledger: set on hand: %w", err)
	}
	return level, nil
}

func (r *txRepo) SetThresholds(ctx context.Context, key Key, reorderLevel, minStock int64) (Level, error) {
	row := r.tx.QueryRow(ctx, `UPDATE stock_levels SET reorder_level = $4, min_stock = $5, updated_at = NOW()
WHERE tenant_id = $1 AND product_id = $2 AND warehouse_id = $3
RETURNING `+levelColumns, key.TenantID, key.ProductID, key.WarehouseID, reorderLevel, minStock)
	level, err := scanLevel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Level{}, ErrLevelNotFound
		}
		return Level{}, fmt.Errorf("ledger: set thresholds: %w", err)
	}
	return level, nil
}

func (r *txRepo) GetEntry(ctx context.Context, tenantID, id int64) (Entry, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM stock_ledger_entries WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, shared.NotFound("ledger entry", id)
		}
		return Entry{}, fmt.Errorf("ledger: get entry: %w", err)
	}
	return entry, nil
}

func (r *txRepo) DeleteEntry(ctx context.Context, tenantID, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM stock_ledger_entries WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("ledger: delete entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("ledger entry", id)
	}
	return nil
}

func sumEntries(ctx context.Context, q db.Querier, key Key) (int64, error) {
	var sum int64
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(quantity * sign), 0)::BIGINT FROM stock_ledger_entries
WHERE tenant_id = $1 AND product_id = $2 AND warehouse_id = $3`,
		key.TenantID, key.ProductID, key.WarehouseID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("ledger: sum entries: %w", err)
	}
	return sum, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e         Entry
		direction string
		reason    string
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.ProductID, &e.WarehouseID, &direction, &e.Sign, &e.Quantity,
		&reason, &e.ActorID, &e.RefModule, &e.RefID, &e.Note, &e.CreatedAt)
	e.Direction = Direction(direction)
	e.Reason = Reason(reason)
	return e, err
}

func scanLevel(row pgx.Row) (Level, error) {
	var l Level
	err := row.Scan(&l.TenantID, &l.ProductID, &l.WarehouseID, &l.OnHand, &l.Reserved, &l.ReorderLevel,
		&l.MinStock, &l.CreatedBy, &l.UpdatedAt)
	return l, err
}
