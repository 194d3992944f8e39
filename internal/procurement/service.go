package procurement

import (
	"context"
	"fmt"
	"log/slog"
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

const approvalModule = "PO"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenantID, id int64) (PurchaseOrder, error)
	List(ctx context.Context, scope access.Scope, filter ListFilter) ([]PurchaseOrder, error)
}

// MasterDataPort checks referenced suppliers, warehouses, and products.
type MasterDataPort interface {
	SupplierActive(ctx context.Context, tenantID, supplierID int64) error
	WarehouseExists(ctx context.Context, tenantID, warehouseID int64) error
	Products(ctx context.Context, tenantID int64, ids []int64) (map[int64]masterdata.Product, error)
}

// StockPort posts ledger entries.
type StockPort interface {
	Post(ctx context.Context, in ledger.PostInput) (ledger.PostResult, error)
}

// PolicyPort exposes the rule accessor the workflow needs.
type PolicyPort interface {
	ShouldAutoReceivePurchase(ctx context.Context, tenantID int64) (bool, error)
}

// ApprovalPort records approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, tenantID int64, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts status changes.
type MetricsPort interface {
	ObserveTransition(module, from, to string)
}

// Service orchestrates the purchase order workflow.
type Service struct {
	repo       RepositoryPort
	masterdata MasterDataPort
	stock      StockPort
	policies   PolicyPort
	approvals  ApprovalPort
	audit      AuditPort
	metrics    MetricsPort
	logger     *slog.Logger
	now        func() time.Time
}

// Deps groups Service collaborators.
type Deps struct {
	Repo       RepositoryPort
	MasterData MasterDataPort
	Stock      StockPort
	Policies   PolicyPort
	Approvals  ApprovalPort
	Audit      AuditPort
	Metrics    MetricsPort
	Logger     *slog.Logger
}

// NewService constructs procurement service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       deps.Repo,
		masterdata: deps.MasterData,
		stock:      deps.Stock,
		policies:   deps.Policies,
		approvals:  deps.Approvals,
		audit:      deps.Audit,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Submit creates a purchase order. With auto-receive enabled the order is created
// RECEIVED and its stock is booked in the same transaction.
func (s *Service) Submit(ctx context.Context, actor shared.Actor, in SubmitInput) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	if err := s.masterdata.SupplierActive(ctx, actor.TenantID, in.SupplierID); err != nil {
		return Result{}, err
	}
	if err := s.masterdata.WarehouseExists(ctx, actor.TenantID, in.WarehouseID); err != nil {
		return Result{}, err
	}
	ids := make([]int64, 0, len(in.Items))
	for _, item := range in.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.masterdata.Products(ctx, actor.TenantID, ids)
	if err != nil {
		return Result{}, err
	}
	autoReceive, err := s.policies.ShouldAutoReceivePurchase(ctx, actor.TenantID)
	if err != nil {
		return Result{}, err
	}

	po := PurchaseOrder{
		TenantID:    actor.TenantID,
		Number:      generateNumber("PO", s.now()),
		SupplierID:  in.SupplierID,
		WarehouseID: in.WarehouseID,
		Status:      StatusPending,
		Note:        in.Note,
		CreatedBy:   actor.ID,
		Lines:       make([]Line, 0, len(in.Items)),
	}
	total := decimal.Zero
	for _, item := range in.Items {
		p := products[item.ProductID]
		subtotal := item.UnitCost.Mul(decimal.NewFromInt(item.Quantity))
		total = total.Add(subtotal)
		po.Lines = append(po.Lines, Line{
			ProductID: item.ProductID,
			SKU:       p.SKU,
			Name:      p.Name,
			Quantity:  item.Quantity,
			UnitCost:  item.UnitCost,
			Subtotal:  subtotal,
		})
	}
	po.Total = total
	if autoReceive {
		now := s.now()
		po.Status = StatusReceived
		po.ReceivedAt = &now
	}

	result := Result{Warnings: []rules.Warning{}}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := tx.Insert(ctx, po)
		if err != nil {
			return err
		}
		result.Order = created
		if s.approvals != nil {
			if err := s.approvals.Record(ctx, shared.ApprovalLog{
				TenantID: actor.TenantID,
				Module:   approvalModule,
				RefID:    shared.ApprovalRef(approvalModule, created.ID),
				ActorID:  actor.ID,
				Action:   shared.ApprovalSubmit,
				Note:     fmt.Sprintf("PO %s submitted", created.Number),
			}); err != nil {
				return err
			}
		}
		if created.Status != StatusReceived {
			return nil
		}
		result.Warnings, err = s.receiveStock(ctx, actor, created)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	s.recordAudit(ctx, actor, "PO_SUBMIT", result.Order, map[string]any{
		"number":       result.Order.Number,
		"status":       result.Order.Status,
		"auto_receive": autoReceive,
	})
	if autoReceive {
		s.observe(StatusPending, StatusReceived)
	}
	return result, nil
}

// Approve moves a PENDING order to APPROVED. Only managers and admins approve.
func (s *Service) Approve(ctx context.Context, actor shared.Actor, id int64) (PurchaseOrder, error) {
	if !actor.IsApprover() {
		return PurchaseOrder{}, shared.Denied("only managers and admins may approve purchase orders")
	}
	var approved PurchaseOrder
	err := s.guarded(ctx, actor, id, StatusApproved, func(ctx context.Context, tx TxRepository, po PurchaseOrder) error {
		approved = po
		if s.approvals == nil {
			return nil
		}
		return s.approvals.Record(ctx, shared.ApprovalLog{
			TenantID: actor.TenantID,
			Module:   approvalModule,
			RefID:    shared.ApprovalRef(approvalModule, po.ID),
			ActorID:  actor.ID,
			Action:   shared.ApprovalApprove,
			Note:     fmt.Sprintf("PO %s approved", po.Number),
		})
	})
	return approved, err
}

// Receive books the order's stock and marks it RECEIVED. Stock rule failures become warnings.
func (s *Service) Receive(ctx context.Context, actor shared.Actor, id int64) (Result, error) {
	result := Result{Warnings: []rules.Warning{}}
	err := s.guarded(ctx, actor, id, StatusReceived, func(ctx context.Context, tx TxRepository, po PurchaseOrder) error {
		result.Order = po
		var err error
		result.Warnings, err = s.receiveStock(ctx, actor, po)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// Cancel moves a PENDING or APPROVED order to CANCELLED without touching stock.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64) (PurchaseOrder, error) {
	var cancelled PurchaseOrder
	err := s.guarded(ctx, actor, id, StatusCancelled, func(ctx context.Context, tx TxRepository, po PurchaseOrder) error {
		cancelled = po
		if s.approvals == nil {
			return nil
		}
		return s.approvals.Record(ctx, shared.ApprovalLog{
			TenantID: actor.TenantID,
			Module:   approvalModule,
			RefID:    shared.ApprovalRef(approvalModule, po.ID),
			ActorID:  actor.ID,
			Action:   shared.ApprovalCancel,
			Note:     fmt.Sprintf("PO %s cancelled", po.Number),
		})
	})
	return cancelled, err
}

// Delete removes an order that has not been received or cancelled.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id int64) error {
	po, err := s.load(ctx, actor, id)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Delete(ctx, actor.TenantID, id, deletable)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "PO_DELETE", po, map[string]any{"number": po.Number, "status": po.Status})
	return nil
}

// Get returns one order visible to the actor.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (PurchaseOrder, error) {
	return s.load(ctx, actor, id)
}

// Approvals returns the approval history of an order visible to the actor, oldest first.
func (s *Service) Approvals(ctx context.Context, actor shared.Actor, id int64) ([]shared.ApprovalLog, error) {
	po, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return []shared.ApprovalLog{}, nil
	}
	return s.approvals.List(ctx, po.TenantID, approvalModule, shared.ApprovalRef(approvalModule, po.ID))
}

// List returns orders visible to scope.
func (s *Service) List(ctx context.Context, scope access.Scope, filter ListFilter) ([]PurchaseOrder, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.List(ctx, scope, filter)
}

func (s *Service) load(ctx context.Context, actor shared.Actor, id int64) (PurchaseOrder, error) {
	if id <= 0 {
		return PurchaseOrder{}, shared.Invalid("id", "is required")
	}
	scope, err := access.ForActor(actor)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if err := access.CanAct(scope, po.TenantID, po.CreatedBy); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// guarded runs an optimistic status change and then fn, all in one transaction.
// A lost race surfaces as InvalidStateTransitionError and nothing is written.
func (s *Service) guarded(ctx context.Context, actor shared.Actor, id int64, to Status, fn func(context.Context, TxRepository, PurchaseOrder) error) error {
	current, err := s.load(ctx, actor, id)
	if err != nil {
		return err
	}
	if !CanTransition(current.Status, to) {
		return &shared.InvalidStateTransitionError{Entity: "purchase order", From: string(current.Status), To: string(to)}
	}
	var updated PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = tx.Transition(ctx, transition{
			TenantID: actor.TenantID,
			ID:       id,
			From:     transitions[to],
			To:       to,
			ActorID:  actor.ID,
		})
		if err != nil {
			return err
		}
		return fn(ctx, tx, updated)
	})
	if err != nil {
		return err
	}
	s.observe(current.Status, to)
	s.recordAudit(ctx, actor, "PO_"+string(to), updated, map[string]any{
		"number": updated.Number,
		"from":   current.Status,
		"to":     to,
	})
	return nil
}

func (s *Service) receiveStock(ctx context.Context, actor shared.Actor, po PurchaseOrder) ([]rules.Warning, error) {
	lines := make([]ledger.Line, 0, len(po.Lines))
	for _, line := range po.Lines {
		lines = append(lines, ledger.Line{
			ProductID:   line.ProductID,
			WarehouseID: po.WarehouseID,
			Quantity:    line.Quantity,
			Note:        fmt.Sprintf("PO %s", po.Number),
		})
	}
	posted, err := s.stock.Post(ctx, ledger.PostInput{
		TenantID:       po.TenantID,
		ActorID:        actor.ID,
		Direction:      ledger.DirectionIn,
		Reason:         ledger.ReasonPurchase,
		RefModule:      "PURCHASE_ORDER",
		RefID:          po.Number,
		IdempotencyKey: "PO:" + strconv.FormatInt(po.ID, 10),
		Mode:           ledger.Advisory,
		Lines:          lines,
	})
	if err != nil {
		return nil, err
	}
	if len(posted.Warnings) > 0 {
		s.logger.Warn("procurement: receipt warnings",
			slog.Int64("tenant_id", po.TenantID),
			slog.String("number", po.Number),
			slog.Int("warnings", len(posted.Warnings)))
	}
	return posted.Warnings, nil
}

func (s *Service) observe(from, to Status) {
	if s.metrics != nil {
		s.metrics.ObserveTransition("purchase_order", string(from), string(to))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, po PurchaseOrder, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: actor.TenantID,
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: strconv.FormatInt(po.ID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("procurement: audit failed", slog.String("action", action), slog.Any("error", err))
	}
}

func generateNumber(prefix string, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), suffix)
}
