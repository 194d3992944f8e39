package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/rules"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Status reports whether a sales order's stock was deducted.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
)

// Order is an outbound sale.
type Order struct {
	ID            int64           `json:"id"`
	TenantID      int64           `json:"tenant_id"`
	Number        string          `json:"number"`
	Status        Status          `json:"status"`
	Total         decimal.Decimal `json:"total"`
	StockDeducted bool            `json:"stock_deducted"`
	Note          string          `json:"note,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	Lines         []Line          `json:"lines"`
}

// Line is a sold product with the sku and name captured at sale time.
type Line struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// ItemInput is one sold product.
type ItemInput struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    int64           `json:"quantity" validate:"required,gt=0"`
	Price       decimal.Decimal `json:"price"`
}

// SaleInput records a sale.
type SaleInput struct {
	Items []ItemInput `json:"items" validate:"required,min=1,dive"`
	Note  string      `json:"note"`
}

// Validate checks the payload beyond struct tags.
func (in SaleInput) Validate() error {
	if len(in.Items) == 0 {
		return shared.Invalid("items", "must have at least one line")
	}
	for _, item := range in.Items {
		if item.ProductID <= 0 {
			return shared.Invalid("items.product_id", "is required")
		}
		if item.WarehouseID <= 0 {
			return shared.Invalid("items.warehouse_id", "is required")
		}
		if item.Quantity <= 0 {
			return shared.Invalid("items.quantity", "must be positive")
		}
		if item.Price.IsNegative() {
			return shared.Invalid("items.price", "must not be negative")
		}
	}
	return nil
}

// Result is a recorded order plus stock warnings.
type Result struct {
	Order    Order           `json:"order"`
	Warnings []rules.Warning `json:"warnings"`
}

// ListFilter narrows order listings.
type ListFilter struct {
	Status Status
	Page   shared.Page
}

type stockKey struct {
	productID   int64
	warehouseID int64
}
