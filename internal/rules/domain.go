package rules

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Operation is the direction of a proposed stock change.
type Operation string

const (
	OperationAdd    Operation = "add"
	OperationDeduct Operation = "deduct"
)

// Valid reports whether op is known.
func (op Operation) Valid() bool {
	return op == OperationAdd || op == OperationDeduct
}

// WarningLevel classifies a resulting balance.
type WarningLevel string

const (
	WarningLow      WarningLevel = "LOW"
	WarningCritical WarningLevel = "CRITICAL"
	WarningNegative WarningLevel = "NEGATIVE"
	// WarningRejected is attached when an advisory evaluation would have been blocked.
	WarningRejected WarningLevel = "REJECTED"
)

// Warning is a human readable annotation produced by validation.
type Warning struct {
	Level       WarningLevel `json:"level"`
	ProductID   int64        `json:"product_id"`
	WarehouseID int64        `json:"warehouse_id"`
	Message     string       `json:"message"`
}

// Policy holds the per-tenant stock rules.
type Policy struct {
	TenantID                  int64     `json:"tenant_id"`
	AllowNegativeStock        bool      `json:"allow_negative_stock"`
	LowStockThreshold         int64     `json:"low_stock_threshold"`
	CriticalStockThreshold    int64     `json:"critical_stock_threshold"`
	EnableLowStockAlert       bool      `json:"enable_low_stock_alert"`
	AutoUpdateStock           bool      `json:"auto_update_stock"`
	RequireApprovalForRemoval bool      `json:"require_approval_for_removal"`
	AutoReceivePurchase       bool      `json:"auto_receive_purchase"`
	AutoDeductSales           bool      `json:"auto_deduct_sales"`
	EnableBarcodeScanning     bool      `json:"enable_barcode_scanning"`
	TrackSerialNumbers        bool      `json:"track_serial_numbers"`
	TrackBatches              bool      `json:"track_batches"`
	TrackExpiry               bool      `json:"track_expiry"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// DefaultPolicy returns the policy a tenant receives on first access.
func DefaultPolicy(tenantID int64) Policy {
	return Policy{
		TenantID:               tenantID,
		AllowNegativeStock:     false,
		LowStockThreshold:      10,
		CriticalStockThreshold: 5,
		EnableLowStockAlert:    true,
		AutoUpdateStock:        true,
		AutoDeductSales:        true,
	}
}

// PolicyPatch updates only the non-nil fields.
type PolicyPatch struct {
	AllowNegativeStock        *bool  `json:"allow_negative_stock,omitempty"`
	LowStockThreshold         *int64 `json:"low_stock_threshold,omitempty"`
	CriticalStockThreshold    *int64 `json:"critical_stock_threshold,omitempty"`
	EnableLowStockAlert       *bool  `json:"enable_low_stock_alert,omitempty"`
	AutoUpdateStock           *bool  `json:"auto_update_stock,omitempty"`
	RequireApprovalForRemoval *bool  `json:"require_approval_for_removal,omitempty"`
	AutoReceivePurchase       *bool  `json:"auto_receive_purchase,omitempty"`
	AutoDeductSales           *bool  `json:"auto_deduct_sales,omitempty"`
	EnableBarcodeScanning     *bool  `json:"enable_barcode_scanning,omitempty"`
	TrackSerialNumbers        *bool  `json:"track_serial_numbers,omitempty"`
	TrackBatches              *bool  `json:"track_batches,omitempty"`
	TrackExpiry               *bool  `json:"track_expiry,omitempty"`
}

// Apply returns p with the patch applied and validated.
func (patch PolicyPatch) Apply(p Policy) (Policy, error) {
	setBool(&p.AllowNegativeStock, patch.AllowNegativeStock)
	setBool(&p.EnableLowStockAlert, patch.EnableLowStockAlert)
	setBool(&p.AutoUpdateStock, patch.AutoUpdateStock)
	setBool(&p.RequireApprovalForRemoval, patch.RequireApprovalForRemoval)
	setBool(&p.AutoReceivePurchase, patch.AutoReceivePurchase)
	setBool(&p.AutoDeductSales, patch.AutoDeductSales)
	setBool(&p.EnableBarcodeScanning, patch.EnableBarcodeScanning)
	setBool(&p.TrackSerialNumbers, patch.TrackSerialNumbers)
	setBool(&p.TrackBatches, patch.TrackBatches)
	setBool(&p.TrackExpiry, patch.TrackExpiry)
	if patch.LowStockThreshold != nil {
		p.LowStockThreshold = *patch.LowStockThreshold
	}
	if patch.CriticalStockThreshold != nil {
		p.CriticalStockThreshold = *patch.CriticalStockThreshold
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks threshold consistency.
func (p Policy) Validate() error {
	if p.LowStockThreshold < 0 {
		return shared.Invalid("low_stock_threshold", "must not be negative")
	}
	if p.CriticalStockThreshold < 0 {
		return shared.Invalid("critical_stock_threshold", "must not be negative")
	}
	if p.LowStockThreshold > 0 && p.CriticalStockThreshold > p.LowStockThreshold {
		return shared.Invalid("critical_stock_threshold", "must not exceed low_stock_threshold")
	}
	return nil
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// Validation is the outcome of checking one proposed change.
type Validation struct {
	Allowed      bool      `json:"allowed"`
	CurrentStock int64     `json:"current_stock"`
	NewStock     int64     `json:"new_stock"`
	Warnings     []Warning `json:"warnings"`
}

// Check identifies the stock key and change under evaluation.
type Check struct {
	ProductID   int64
	WarehouseID int64
	Current     int64
	Quantity    int64
	Operation   Operation
}

// Evaluate applies policy to a proposed change. A blocked deduction returns the
// validation with Allowed=false together with an InsufficientStockError.
func Evaluate(p Policy, c Check) (Validation, error) {
	if c.Quantity <= 0 {
		return Validation{}, shared.Invalid("quantity", "must be positive")
	}
	if !c.Operation.Valid() {
		return Validation{}, shared.Invalid("operation", "must be add or deduct")
	}
	v := Validation{Allowed: true, CurrentStock: c.Current, Warnings: []Warning{}}
	if c.Operation == OperationAdd {
		v.NewStock = c.Current + c.Quantity
	} else {
		v.NewStock = c.Current - c.Quantity
	}
	if c.Operation == OperationDeduct && !p.AllowNegativeStock && v.NewStock < 0 {
		v.Allowed = false
		return v, &shared.InsufficientStockError{
			ProductID:   c.ProductID,
			WarehouseID: c.WarehouseID,
			Current:     c.Current,
			Requested:   c.Quantity,
		}
	}
	v.Warnings = classify(p, c, v.NewStock)
	return v, nil
}

func classify(p Policy, c Check, balance int64) []Warning {
	warnings := []Warning{}
	if balance < 0 {
		warnings = append(warnings, Warning{
			Level:       WarningNegative,
			ProductID:   c.ProductID,
			WarehouseID: c.WarehouseID,
			Message:     fmt.Sprintf("stock for product %d in warehouse %d will be negative (%d)", c.ProductID, c.WarehouseID, balance),
		})
	}
	if !p.EnableLowStockAlert {
		return warnings
	}
	switch {
	case p.CriticalStockThreshold > 0 && balance <= p.CriticalStockThreshold:
		warnings = append(warnings, Warning{
			Level:       WarningCritical,
			ProductID:   c.ProductID,
			WarehouseID: c.WarehouseID,
			Message:     fmt.Sprintf("stock for product %d in warehouse %d is critical: %d left (threshold %d)", c.ProductID, c.WarehouseID, balance, p.CriticalStockThreshold),
		})
	case p.LowStockThreshold > 0 && balance <= p.LowStockThreshold:
		warnings = append(warnings, Warning{
			Level:       WarningLow,
			ProductID:   c.ProductID,
			WarehouseID: c.WarehouseID,
			Message:     fmt.Sprintf("stock for product %d in warehouse %d is low: %d left (threshold %d)", c.ProductID, c.WarehouseID, balance, p.LowStockThreshold),
		})
	}
	return warnings
}
