package procurement

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/rules"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Status is the purchase order lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusReceived  Status = "RECEIVED"
	StatusCancelled Status = "CANCELLED"
)

// transitions lists the states each target may be entered from.
var transitions = map[Status][]Status{
	StatusApproved:  {StatusPending},
	StatusReceived:  {StatusPending, StatusApproved},
	StatusCancelled: {StatusPending, StatusApproved},
}

// deletable are the states an order may be removed in.
var deletable = []Status{StatusPending, StatusApproved}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[to], from)
}

// PurchaseOrder is an order placed with a supplier for one warehouse.
type PurchaseOrder struct {
	ID          int64           `json:"id"`
	TenantID    int64           `json:"tenant_id"`
	Number      string          `json:"number"`
	SupplierID  int64           `json:"supplier_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Status      Status          `json:"status"`
	Total       decimal.Decimal `json:"total"`
	Note        string          `json:"note,omitempty"`
	CreatedBy   int64           `json:"created_by"`
	ApprovedBy  *int64          `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
	ReceivedAt  *time.Time      `json:"received_at,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Lines       []Line          `json:"lines"`
}

// Line is an ordered product with the sku and name captured at creation.
type Line struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// LineInput is one requested product.
type LineInput struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int64           `json:"quantity" validate:"required,gt=0"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// SubmitInput creates a purchase order.
type SubmitInput struct {
	SupplierID  int64       `json:"supplier_id" validate:"required,gt=0"`
	WarehouseID int64       `json:"warehouse_id" validate:"required,gt=0"`
	Note        string      `json:"note"`
	Items       []LineInput `json:"items" validate:"required,min=1,dive"`
}

// Validate checks the payload beyond struct tags.
func (in SubmitInput) Validate() error {
	if in.SupplierID <= 0 {
		return shared.Invalid("supplier_id", "is required")
	}
	if in.WarehouseID <= 0 {
		return shared.Invalid("warehouse_id", "is required")
	}
	if len(in.Items) == 0 {
		return shared.Invalid("items", "must have at least one line")
	}
	for _, item := range in.Items {
		if item.ProductID <= 0 {
			return shared.Invalid("items.product_id", "is required")
		}
		if item.Quantity <= 0 {
			return shared.Invalid("items.quantity", "must be positive")
		}
		if item.UnitCost.IsNegative() {
			return shared.Invalid("items.unit_cost", "must not be negative")
		}
	}
	return nil
}

// Result is a purchase order plus any stock warnings raised while receiving it.
type Result struct {
	Order    PurchaseOrder   `json:"order"`
	Warnings []rules.Warning `json:"warnings"`
}

// ListFilter narrows order listings.
type ListFilter struct {
	Status     Status
	SupplierID int64
	Page       shared.Page
}

// transition describes a guarded status change.
type transition struct {
	TenantID int64
	ID       int64
	From     []Status
	To       Status
	ActorID  int64
}
