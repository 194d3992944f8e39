package sales

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/access"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/masterdata"
	"github.com/odyssey-erp/stockledger/internal/rules"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenantID, id int64) (Order, error)
	List(ctx context.Context, scope access.Scope, filter ListFilter) ([]Order, error)
}

// MasterDataPort checks referenced products and warehouses.
type MasterDataPort interface {
	WarehouseExists(ctx context.Context, tenantID, warehouseID int64) error
	Products(ctx context.Context, tenantID int64, ids []int64) (map[int64]masterdata.Product, error)
}

// RulesPort validates deductions against the tenant policy.
type RulesPort interface {
	ValidateTransaction(ctx context.Context, tenantID, productID, warehouseID, quantity int64, op rules.Operation) (rules.Validation, error)
	ShouldAutoDeductSales(ctx context.Context, tenantID int64) (bool, error)
}

// StockPort posts ledger entries.
type StockPort interface {
	Post(ctx context.Context, in ledger.PostInput) (ledger.PostResult, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service records sales and their stock effect.
type Service struct {
	repo       RepositoryPort
	masterdata MasterDataPort
	rules      RulesPort
	stock      StockPort
	audit      AuditPort
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs sales service.
func NewService(repo RepositoryPort, md MasterDataPort, policy RulesPort, stock StockPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, masterdata: md, rules: policy, stock: stock, audit: audit, logger: logger, now: time.Now}
}

// RecordSale validates every line against current stock and, when the tenant deducts
// on sale, writes the order and its OUT entries in one transaction. Any rule failure
// aborts before anything is written.
func (s *Service) RecordSale(ctx context.Context, actor shared.Actor, in SaleInput) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	ids := make([]int64, 0, len(in.Items))
	totals := make(map[stockKey]int64)
	var keys []stockKey
	for _, item := range in.Items {
		if !slices.Contains(ids, item.ProductID) {
			ids = append(ids, item.ProductID)
		}
		k := stockKey{productID: item.ProductID, warehouseID: item.WarehouseID}
		if _, ok := totals[k]; !ok {
			keys = append(keys, k)
		}
		totals[k] += item.Quantity
	}
	products, err := s.masterdata.Products(ctx, actor.TenantID, ids)
	if err != nil {
		return Result{}, err
	}
	checked := map[int64]bool{}
	for _, k := range keys {
		if checked[k.warehouseID] {
			continue
		}
		if err := s.masterdata.WarehouseExists(ctx, actor.TenantID, k.warehouseID); err != nil {
			return Result{}, err
		}
		checked[k.warehouseID] = true
	}

	warnings := []rules.Warning{}
	for _, k := range keys {
		v, err := s.rules.ValidateTransaction(ctx, actor.TenantID, k.productID, k.warehouseID, totals[k], rules.OperationDeduct)
		if err != nil {
			return Result{}, err
		}
		warnings = append(warnings, v.Warnings...)
	}
	deduct, err := s.rules.ShouldAutoDeductSales(ctx, actor.TenantID)
	if err != nil {
		return Result{}, err
	}

	order := Order{
		TenantID:      actor.TenantID,
		Number:        generateNumber(s.now()),
		Status:        StatusPending,
		StockDeducted: deduct,
		Note:          in.Note,
		CreatedBy:     actor.ID,
		Lines:         make([]Line, 0, len(in.Items)),
	}
	if deduct {
		order.Status = StatusCompleted
	}
	order.Total = decimal.Zero
	for _, item := range in.Items {
		p := products[item.ProductID]
		subtotal := item.Price.Mul(decimal.NewFromInt(item.Quantity))
		order.Total = order.Total.Add(subtotal)
		order.Lines = append(order.Lines, Line{
			ProductID:   item.ProductID,
			WarehouseID: item.WarehouseID,
			SKU:         p.SKU,
			Name:        p.Name,
			Quantity:    item.Quantity,
			Price:       item.Price,
			Subtotal:    subtotal,
		})
	}

	result := Result{Warnings: warnings}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := tx.Insert(ctx, order)
		if err != nil {
			return err
		}
		result.Order = created
		if !deduct {
			return nil
		}
		lines := make([]ledger.Line, 0, len(created.Lines))
		for _, line := range created.Lines {
			lines = append(lines, ledger.Line{ProductID: line.ProductID, WarehouseID: line.WarehouseID, Quantity: line.Quantity})
		}
		posted, err := s.stock.Post(ctx, ledger.PostInput{
			TenantID:  actor.TenantID,
			ActorID:   actor.ID,
			Direction: ledger.DirectionOut,
			Reason:    ledger.ReasonSale,
			RefModule: "SALES_ORDER",
			RefID:     created.Number,
			Mode:      ledger.Enforce,
			Lines:     lines,
		})
		if err != nil {
			return err
		}
		// Warnings computed under the row lock supersede the pre-check.
		result.Warnings = posted.Warnings
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			TenantID: actor.TenantID,
			ActorID:  actor.ID,
			Action:   "SALES_ORDER_CREATE",
			Entity:   "sales_order",
			EntityID: strconv.FormatInt(result.Order.ID, 10),
			Meta: map[string]any{
				"number":         result.Order.Number,
				"total":          result.Order.Total.String(),
				"stock_deducted": deduct,
			},
		}); err != nil {
			s.logger.Warn("sales: audit failed", slog.Any("error", err))
		}
	}
	return result, nil
}

// Get returns one order visible to the actor.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (Order, error) {
	if id <= 0 {
		return Order{}, shared.Invalid("id", "is required")
	}
	scope, err := access.ForActor(actor)
	if err != nil {
		return Order{}, err
	}
	order, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return Order{}, err
	}
	if err := access.CanAct(scope, order.TenantID, order.CreatedBy); err != nil {
		return Order{}, err
	}
	return order, nil
}

// List returns orders visible to scope.
func (s *Service) List(ctx context.Context, scope access.Scope, filter ListFilter) ([]Order, error) {
	if filter.Status != "" && filter.Status != StatusPending && filter.Status != StatusCompleted {
		return nil, shared.Invalid("status", "must be PENDING or COMPLETED")
	}
	filter.Page = filter.Page.Normalize()
	return s.repo.List(ctx, scope, filter)
}

func generateNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("SO-%s-%s", at.Format("20060102"), suffix)
}
