package rules

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort persists policies.
type RepositoryPort interface {
	GetOrCreate(ctx context.Context, defaults Policy) (Policy, error)
	// Update locks the tenant's policy row, creating it from defaults if missing,
	// and stores apply's result in the same transaction.
	Update(ctx context.Context, defaults Policy, apply func(Policy) (Policy, error)) (Policy, error)
}

// CachePort caches policies between requests. Failures are tolerated.
type CachePort interface {
	Get(ctx context.Context, tenantID int64) (Policy, bool, error)
	Set(ctx context.Context, policy Policy) error
	Invalidate(ctx context.Context, tenantID int64) error
}

// StockReader exposes the authoritative balance of one stock key.
type StockReader interface {
	Balance(ctx context.Context, tenantID, productID, warehouseID int64) (int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service resolves tenant policies and validates proposed stock changes.
type Service struct {
	repo   RepositoryPort
	cache  CachePort
	stock  StockReader
	audit  AuditPort
	logger *slog.Logger
	loads  singleflight.Group
}

// NewService builds Service. cache and audit may be nil.
func NewService(repo RepositoryPort, cache CachePort, stock StockReader, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, stock: stock, audit: audit, logger: logger}
}

// GetPolicy returns the tenant's policy, creating it with DefaultPolicy on first access.
func (s *Service) GetPolicy(ctx context.Context, tenantID int64) (Policy, error) {
	if tenantID <= 0 {
		return Policy{}, shared.Invalid("tenant_id", "is required")
	}
	if s.cache != nil {
		policy, ok, err := s.cache.Get(ctx, tenantID)
		if err != nil {
			s.logger.Warn("rules: cache get", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
		} else if ok {
			return policy, nil
		}
	}
	// The load is shared by every waiter, so one caller's cancellation must not fail the rest.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := s.loads.Do(strconv.FormatInt(tenantID, 10), func() (any, error) {
		policy, err := s.repo.GetOrCreate(loadCtx, DefaultPolicy(tenantID))
		if err != nil {
			return Policy{}, err
		}
		if s.cache != nil {
			if err := s.cache.Set(loadCtx, policy); err != nil {
				s.logger.Warn("rules: cache set", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
			}
		}
		return policy, nil
	})
	if err != nil {
		return Policy{}, err
	}
	return v.(Policy), nil
}

// UpdatePolicy applies patch to the actor's tenant policy. Only admins may change policy.
func (s *Service) UpdatePolicy(ctx context.Context, actor shared.Actor, patch PolicyPatch) (Policy, error) {
	if actor.Role != shared.RoleAdmin {
		return Policy{}, shared.Denied("only admins may change stock rules")
	}
	saved, err := s.repo.Update(ctx, DefaultPolicy(actor.TenantID), patch.Apply)
	if err != nil {
		return Policy{}, err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, actor.TenantID); err != nil {
			s.logger.Warn("rules: cache invalidate", slog.Int64("tenant_id", actor.TenantID), slog.Any("error", err))
		}
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: actor.TenantID,
			ActorID:  actor.ID,
			Action:   "RULE_POLICY_UPDATE",
			Entity:   "rule_policy",
			EntityID: strconv.FormatInt(actor.TenantID, 10),
			Meta:     map[string]any{"patch": patch},
		})
	}
	return saved, nil
}

// ValidateTransaction evaluates a proposed change against the current balance.
// A blocked deduction returns Allowed=false and an InsufficientStockError.
func (s *Service) ValidateTransaction(ctx context.Context, tenantID, productID, warehouseID, quantity int64, op Operation) (Validation, error) {
	if productID <= 0 {
		return Validation{}, shared.Invalid("product_id", "is required")
	}
	if warehouseID <= 0 {
		return Validation{}, shared.Invalid("warehouse_id", "is required")
	}
	if s.stock == nil {
		return Validation{}, errors.New("rules: stock reader not configured")
	}
	policy, err := s.GetPolicy(ctx, tenantID)
	if err != nil {
		return Validation{}, err
	}
	current, err := s.stock.Balance(ctx, tenantID, productID, warehouseID)
	if err != nil {
		return Validation{}, err
	}
	return Evaluate(policy, Check{ProductID: productID, WarehouseID: warehouseID, Current: current, Quantity: quantity, Operation: op})
}

// IsNegativeStockAllowed reports the tenant's negative stock policy.
func (s *Service) IsNegativeStockAllowed(ctx context.Context, tenantID int64) (bool, error) {
	p, err := s.GetPolicy(ctx, tenantID)
	return p.AllowNegativeStock, err
}

// ShouldAutoDeductSales reports whether sales deduct stock on creation.
func (s *Service) ShouldAutoDeductSales(ctx context.Context, tenantID int64) (bool, error) {
	p, err := s.GetPolicy(ctx, tenantID)
	return p.AutoDeductSales, err
}

// ShouldAutoReceivePurchase reports whether purchase orders are received on creation.
func (s *Service) ShouldAutoReceivePurchase(ctx context.Context, tenantID int64) (bool, error) {
	p, err := s.GetPolicy(ctx, tenantID)
	return p.AutoReceivePurchase, err
}

// RequiresApproval reports whether stock removals need an approver.
func (s *Service) RequiresApproval(ctx context.Context, tenantID int64) (bool, error) {
	p, err := s.GetPolicy(ctx, tenantID)
	return p.RequireApprovalForRemoval, err
}
