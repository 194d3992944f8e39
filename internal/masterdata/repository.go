package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository reads master data from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new master data repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SupplierActive fails unless the supplier exists in the tenant and is active.
func (r *Repository) SupplierActive(ctx context.Context, tenantID, supplierID int64) error {
	var active bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT is_active FROM suppliers WHERE tenant_id = $1 AND id = $2`, tenantID, supplierID).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.NotFound("supplier", supplierID)
		}
		return fmt.Errorf("masterdata: supplier: %w", err)
	}
	if !active {
		return shared.Invalid("supplier_id", "supplier is inactive")
	}
	return nil
}

// WarehouseExists fails unless the warehouse exists in the tenant and is active.
func (r *Repository) WarehouseExists(ctx context.Context, tenantID, warehouseID int64) error {
	var active bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT is_active FROM warehouses WHERE tenant_id = $1 AND id = $2`, tenantID, warehouseID).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.NotFound("warehouse", warehouseID)
		}
		return fmt.Errorf("masterdata: warehouse: %w", err)
	}
	if !active {
		return shared.Invalid("warehouse_id", "warehouse is inactive")
	}
	return nil
}

// Products loads every requested product. A missing or inactive id is an error.
func (r *Repository) Products(ctx context.Context, tenantID int64, ids []int64) (map[int64]Product, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT id, tenant_id, sku, name, is_active FROM products WHERE tenant_id = $1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("masterdata: products: %w", err)
	}
	defer rows.Close()

	found := make(map[int64]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.SKU, &p.Name, &p.IsActive); err != nil {
			return nil, fmt.Errorf("masterdata: scan product: %w", err)
		}
		p.SKU = NormalizeSKU(p.SKU)
		p.Name = NormalizeName(p.Name)
		found[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return found, checkProducts(found, ids)
}

func checkProducts(found map[int64]Product, ids []int64) error {
	for _, id := range ids {
		p, ok := found[id]
		if !ok {
			return shared.NotFound("product", id)
		}
		if !p.IsActive {
			return shared.Invalid("product_id", fmt.Sprintf("product %d is inactive", id))
		}
	}
	return nil
}
