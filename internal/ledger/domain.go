package ledger

import (
	"errors"
	"time"

	"github.com/odyssey-erp/stockledger/internal/rules"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Direction enumerates supported stock movements.
type Direction string

const (
	DirectionIn         Direction = "IN"
	DirectionOut        Direction = "OUT"
	DirectionAdjustment Direction = "ADJUSTMENT"
)

// Valid reports whether d is known.
func (d Direction) Valid() bool {
	switch d {
	case DirectionIn, DirectionOut, DirectionAdjustment:
		return true
	}
	return false
}

// Reason categorises why an entry was written.
type Reason string

const (
	ReasonPurchase   Reason = "PURCHASE"
	ReasonSale       Reason = "SALE"
	ReasonReceipt    Reason = "RECEIPT"
	ReasonAdjustment Reason = "ADJUSTMENT"
	ReasonRecount    Reason = "RECOUNT"
)

// Key identifies one projection row.
type Key struct {
	TenantID    int64 `json:"tenant_id"`
	ProductID   int64 `json:"product_id"`
	WarehouseID int64 `json:"warehouse_id"`
}

// Less orders keys so locks are always taken in the same sequence.
func (k Key) Less(o Key) bool {
	if k.ProductID != o.ProductID {
		return k.ProductID < o.ProductID
	}
	return k.WarehouseID < o.WarehouseID
}

// Entry is an immutable ledger record. Quantity is always positive; Sign carries the direction.
type Entry struct {
	ID          int64     `json:"id"`
	TenantID    int64     `json:"tenant_id"`
	ProductID   int64     `json:"product_id"`
	WarehouseID int64     `json:"warehouse_id"`
	Direction   Direction `json:"direction"`
	Sign        int       `json:"sign"`
	Quantity    int64     `json:"quantity"`
	Reason      Reason    `json:"reason"`
	ActorID     int64     `json:"actor_id"`
	RefModule   string    `json:"ref_module,omitempty"`
	RefID       string    `json:"ref_id,omitempty"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Signed returns the entry's contribution to the balance.
func (e Entry) Signed() int64 {
	return int64(e.Sign) * e.Quantity
}

// Key returns the projection key the entry belongs to.
func (e Entry) Key() Key {
	return Key{TenantID: e.TenantID, ProductID: e.ProductID, WarehouseID: e.WarehouseID}
}

// Level is the projected stock state of one key.
type Level struct {
	TenantID     int64     `json:"tenant_id"`
	ProductID    int64     `json:"product_id"`
	WarehouseID  int64     `json:"warehouse_id"`
	OnHand       int64     `json:"quantity"`
	Reserved     int64     `json:"reserved"`
	ReorderLevel int64     `json:"reorder_level"`
	MinStock     int64     `json:"min_stock"`
	CreatedBy    int64     `json:"created_by"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Key returns the level's key.
func (l Level) Key() Key {
	return Key{TenantID: l.TenantID, ProductID: l.ProductID, WarehouseID: l.WarehouseID}
}

// Mode chooses how rule failures are handled while posting.
type Mode int

const (
	// Enforce aborts the whole post on the first rule violation.
	Enforce Mode = iota
	// Advisory records rule violations as warnings and writes anyway.
	Advisory
)

// Line is one product movement inside a post.
type Line struct {
	ProductID   int64
	WarehouseID int64
	Quantity    int64
	// Operation is only read for ADJUSTMENT posts.
	Operation rules.Operation
	Note      string
}

// AppendInput describes a single ledger entry.
type AppendInput struct {
	TenantID    int64
	ProductID   int64
	WarehouseID int64
	Direction   Direction
	Operation   rules.Operation
	Quantity    int64
	Reason      Reason
	ActorID     int64
	RefModule   string
	RefID       string
	Note        string
}

// PostInput groups lines written under one transaction.
type PostInput struct {
	TenantID       int64
	ActorID        int64
	Direction      Direction
	Reason         Reason
	RefModule      string
	RefID          string
	IdempotencyKey string
	Mode           Mode
	Lines          []Line
}

// PostResult returns the written entries and collected warnings.
type PostResult struct {
	Entries  []Entry         `json:"ledger_entries"`
	Warnings []rules.Warning `json:"warnings"`
}

// ReceiptItem is one received product.
type ReceiptItem struct {
	ProductID   int64 `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64 `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    int64 `json:"quantity" validate:"required,gt=0"`
}

// ReceiptInput records goods arriving outside a purchase order.
type ReceiptInput struct {
	Items       []ReceiptItem `json:"items" validate:"required,min=1,dive"`
	ReferenceID string        `json:"reference_id"`
	Note        string        `json:"note"`
}

// AdjustInput adds or removes stock by hand.
type AdjustInput struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    int64           `json:"quantity" validate:"required,gt=0"`
	Operation   rules.Operation `json:"operation" validate:"required,oneof=add deduct"`
	Note        string          `json:"note"`
}

// RecountInput sets the balance to a physically counted value.
type RecountInput struct {
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	Counted     int64  `json:"counted" validate:"gte=0"`
	Note        string `json:"note"`
}

// LevelsInput sets the policy fields of a projection row.
type LevelsInput struct {
	ProductID    int64 `json:"product_id" validate:"required,gt=0"`
	WarehouseID  int64 `json:"warehouse_id" validate:"required,gt=0"`
	ReorderLevel int64 `json:"reorder_level" validate:"gte=0"`
	MinStock     int64 `json:"min_stock" validate:"gte=0"`
}

// EntryFilter narrows ledger history queries.
type EntryFilter struct {
	ProductID   int64
	WarehouseID int64
	Direction   Direction
	From        time.Time
	To          time.Time
	Page        shared.Page
}

// LevelFilter narrows stock level listings.
type LevelFilter struct {
	ProductID    int64
	WarehouseID  int64
	BelowReorder bool
	Page         shared.Page
}

// Aggregate sums the projection across warehouses for one product.
type Aggregate struct {
	OnHand       int64
	ReorderLevel int64
}

// RebuildResult reports a full projection rebuild.
type RebuildResult struct {
	Keys      int `json:"keys"`
	Corrected int `json:"corrected"`
}

// ErrLevelNotFound indicates a missing projection row.
var ErrLevelNotFound = errors.New("ledger: stock level not found")

func signFor(direction Direction, op rules.Operation) (int, rules.Operation) {
	switch direction {
	case DirectionIn:
		return 1, rules.OperationAdd
	case DirectionOut:
		return -1, rules.OperationDeduct
	}
	if op == rules.OperationDeduct {
		return -1, rules.OperationDeduct
	}
	return 1, rules.OperationAdd
}

func (in PostInput) validate() error {
	if in.TenantID <= 0 {
		return shared.Invalid("tenant_id", "is required")
	}
	if in.ActorID <= 0 {
		return shared.Invalid("actor_id", "is required")
	}
	if !in.Direction.Valid() {
		return shared.Invalid("direction", "must be IN, OUT or ADJUSTMENT")
	}
	if in.Reason == "" {
		return shared.Invalid("reason", "is required")
	}
	if len(in.Lines) == 0 {
		return shared.Invalid("lines", "must not be empty")
	}
	for _, line := range in.Lines {
		if line.ProductID <= 0 {
			return shared.Invalid("product_id", "is required")
		}
		if line.WarehouseID <= 0 {
			return shared.Invalid("warehouse_id", "is required")
		}
		if line.Quantity <= 0 {
			return shared.Invalid("quantity", "must be positive")
		}
		if in.Direction == DirectionAdjustment && !line.Operation.Valid() {
			return shared.Invalid("operation", "must be add or deduct")
		}
	}
	return nil
}
