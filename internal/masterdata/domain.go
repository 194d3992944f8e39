// Package masterdata offers read-only lookups of suppliers, warehouses, and products.
package masterdata

// Supplier is a vendor purchase orders are raised against.
type Supplier struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenant_id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// Warehouse is a stock location.
type Warehouse struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenant_id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// Product is the minimal product data order lines snapshot.
type Product struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenant_id"`
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}
