package ledger

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"

	"github.com/odyssey-erp/stockledger/internal/access"
	"github.com/odyssey-erp/stockledger/internal/masterdata"
	"github.com/odyssey-erp/stockledger/internal/rules"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Balance(ctx context.Context, tenantID, productID, warehouseID int64) (int64, error)
	ListEntries(ctx context.Context, scope access.Scope, filter EntryFilter) ([]Entry, error)
	ListLevels(ctx context.Context, scope access.Scope, filter LevelFilter) ([]Level, error)
	TenantKeys(ctx context.Context, tenantID int64) ([]Key, error)
}

// PolicyPort resolves the tenant's stock rules.
type PolicyPort interface {
	GetPolicy(ctx context.Context, tenantID int64) (rules.Policy, error)
}

// IdempotencyPort claims one-time keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, tenantID int64, module, key string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MasterDataPort confirms products and warehouses belong to the tenant.
type MasterDataPort interface {
	WarehouseExists(ctx context.Context, tenantID, warehouseID int64) error
	Products(ctx context.Context, tenantID int64, ids []int64) (map[int64]masterdata.Product, error)
}

// MetricsPort receives ledger counters.
type MetricsPort interface {
	ObserveEntry(direction, reason string)
	ObserveRejection(reason string)
	ObserveWarning(level string)
}

// Service coordinates ledger writes and keeps projections in step.
type Service struct {
	repo        RepositoryPort
	policies    PolicyPort
	masterData  MasterDataPort
	idempotency IdempotencyPort
	audit       AuditPort
	metrics     MetricsPort
	logger      *slog.Logger
}

// ServiceDeps groups the optional collaborators.
type ServiceDeps struct {
	MasterData  MasterDataPort
	Idempotency IdempotencyPort
	Audit       AuditPort
	Metrics     MetricsPort
	Logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, policies PolicyPort, deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		policies:    policies,
		masterData:  deps.MasterData,
		idempotency: deps.Idempotency,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		logger:      logger,
	}
}

// Post appends every line in one transaction and recomputes the touched projections.
// In Enforce mode a rule violation aborts the post before anything is written.
func (s *Service) Post(ctx context.Context, in PostInput) (PostResult, error) {
	if err := in.validate(); err != nil {
		return PostResult{}, err
	}
	policy, err := s.policyFor(ctx, in.TenantID, in.Mode)
	if err != nil {
		return PostResult{}, err
	}
	var result PostResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.IdempotencyKey != "" && s.idempotency != nil {
			if err := s.idempotency.CheckAndInsert(ctx, in.TenantID, "ledger."+string(in.Reason), in.IdempotencyKey); err != nil {
				return err
			}
		}
		var err error
		result, err = s.post(ctx, tx, policy, in)
		return err
	})
	if err != nil {
		if errors.Is(err, shared.ErrInsufficientStock) && s.metrics != nil {
			s.metrics.ObserveRejection(string(in.Reason))
		}
		return PostResult{}, err
	}
	s.observe(result)
	return result, nil
}

// Append writes a single entry in Enforce mode. Product and warehouse must belong to the tenant.
func (s *Service) Append(ctx context.Context, in AppendInput) (Entry, []rules.Warning, error) {
	result, err := s.postChecked(ctx, PostInput{
		TenantID:  in.TenantID,
		ActorID:   in.ActorID,
		Direction: in.Direction,
		Reason:    in.Reason,
		RefModule: in.RefModule,
		RefID:     in.RefID,
		Mode:      Enforce,
		Lines: []Line{{
			ProductID:   in.ProductID,
			WarehouseID: in.WarehouseID,
			Quantity:    in.Quantity,
			Operation:   in.Operation,
			Note:        in.Note,
		}},
	})
	if err != nil {
		return Entry{}, nil, err
	}
	return result.Entries[0], result.Warnings, nil
}

// postChecked is Post for callers that have not resolved master data themselves.
func (s *Service) postChecked(ctx context.Context, in PostInput) (PostResult, error) {
	if err := in.validate(); err != nil {
		return PostResult{}, err
	}
	if err := s.checkKeys(ctx, in.TenantID, in.Lines); err != nil {
		return PostResult{}, err
	}
	return s.Post(ctx, in)
}

// checkKeys fails unless every product and warehouse named by lines exists in the tenant.
func (s *Service) checkKeys(ctx context.Context, tenantID int64, lines []Line) error {
	if s.masterData == nil {
		return nil
	}
	var products, warehouses []int64
	for _, line := range lines {
		if !slices.Contains(products, line.ProductID) {
			products = append(products, line.ProductID)
		}
		if !slices.Contains(warehouses, line.WarehouseID) {
			warehouses = append(warehouses, line.WarehouseID)
		}
	}
	for _, id := range warehouses {
		if err := s.masterData.WarehouseExists(ctx, tenantID, id); err != nil {
			return err
		}
	}
	if _, err := s.masterData.Products(ctx, tenantID, products); err != nil {
		return err
	}
	return nil
}

func (s *Service) post(ctx context.Context, tx TxRepository, policy rules.Policy, in PostInput) (PostResult, error) {
	balances, err := lockKeys(ctx, tx, in.TenantID, in.ActorID, in.Lines)
	if err != nil {
		return PostResult{}, err
	}
	result := PostResult{Entries: make([]Entry, 0, len(in.Lines)), Warnings: []rules.Warning{}}
	for _, line := range in.Lines {
		key := Key{TenantID: in.TenantID, ProductID: line.ProductID, WarehouseID: line.WarehouseID}
		sign, op := signFor(in.Direction, line.Operation)
		v, err := rules.Evaluate(policy, rules.Check{
			ProductID:   line.ProductID,
			WarehouseID: line.WarehouseID,
			Current:     balances[key],
			Quantity:    line.Quantity,
			Operation:   op,
		})
		if err != nil {
			if in.Mode != Advisory {
				return PostResult{}, err
			}
			s.logger.Warn("ledger: advisory validation failed",
				slog.Int64("tenant_id", in.TenantID),
				slog.Int64("product_id", line.ProductID),
				slog.Int64("warehouse_id", line.WarehouseID),
				slog.Any("error", err))
			result.Warnings = append(result.Warnings, rules.Warning{
				Level:       rules.WarningRejected,
				ProductID:   line.ProductID,
				WarehouseID: line.WarehouseID,
				Message:     err.Error(),
			})
		} else {
			result.Warnings = append(result.Warnings, v.Warnings...)
		}
		entry, err := tx.InsertEntry(ctx, Entry{
			TenantID:    in.TenantID,
			ProductID:   line.ProductID,
			WarehouseID: line.WarehouseID,
			Direction:   in.Direction,
			Sign:        sign,
			Quantity:    line.Quantity,
			Reason:      in.Reason,
			ActorID:     in.ActorID,
			RefModule:   in.RefModule,
			RefID:       in.RefID,
			Note:        line.Note,
		})
		if err != nil {
			return PostResult{}, err
		}
		balances[key] += entry.Signed()
		result.Entries = append(result.Entries, entry)
	}
	if err := recompute(ctx, tx, sortedKeys(balances)); err != nil {
		return PostResult{}, err
	}
	return result, nil
}

// lockKeys takes the row lock of every touched key in a fixed order and reads its ledger balance.
func lockKeys(ctx context.Context, tx TxRepository, tenantID, actorID int64, lines []Line) (map[Key]int64, error) {
	balances := make(map[Key]int64, len(lines))
	for _, line := range lines {
		balances[Key{TenantID: tenantID, ProductID: line.ProductID, WarehouseID: line.WarehouseID}] = 0
	}
	for _, key := range sortedKeys(balances) {
		if _, err := tx.LockLevel(ctx, key, actorID); err != nil {
			return nil, err
		}
		bal, err := tx.SumEntries(ctx, key)
		if err != nil {
			return nil, err
		}
		balances[key] = bal
	}
	return balances, nil
}

// recompute rewrites on-hand from the ledger sum, never from an increment.
func recompute(ctx context.Context, tx TxRepository, keys []Key) error {
	for _, key := range keys {
		sum, err := tx.SumEntries(ctx, key)
		if err != nil {
			return err
		}
		if _, err := tx.SetOnHand(ctx, key, sum); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[Key]int64) []Key {
	keys := make([]Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b Key) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	return keys
}

// policyFor loads the policy. Advisory posts fall back to defaults when the policy is unavailable.
func (s *Service) policyFor(ctx context.Context, tenantID int64, mode Mode) (rules.Policy, error) {
	if s.policies == nil {
		return rules.DefaultPolicy(tenantID), nil
	}
	policy, err := s.policies.GetPolicy(ctx, tenantID)
	if err != nil {
		if mode == Advisory {
			s.logger.Warn("ledger: policy unavailable, using defaults", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
			return rules.DefaultPolicy(tenantID), nil
		}
		return rules.Policy{}, err
	}
	return policy, nil
}

func (s *Service) observe(result PostResult) {
	if s.metrics == nil {
		return
	}
	for _, e := range result.Entries {
		s.metrics.ObserveEntry(string(e.Direction), string(e.Reason))
	}
	for _, w := range result.Warnings {
		s.metrics.ObserveWarning(string(w.Level))
	}
}

// RecordReceipt books received goods as IN entries. Rule failures become warnings.
// A non-empty reference id may only be recorded once per tenant.
func (s *Service) RecordReceipt(ctx context.Context, actor shared.Actor, in ReceiptInput) (PostResult, error) {
	lines := make([]Line, 0, len(in.Items))
	for _, item := range in.Items {
		lines = append(lines, Line{ProductID: item.ProductID, WarehouseID: item.WarehouseID, Quantity: item.Quantity, Note: in.Note})
	}
	return s.postChecked(ctx, PostInput{
		TenantID:       actor.TenantID,
		ActorID:        actor.ID,
		Direction:      DirectionIn,
		Reason:         ReasonReceipt,
		RefModule:      "RECEIPT",
		RefID:          in.ReferenceID,
		IdempotencyKey: in.ReferenceID,
		Mode:           Advisory,
		Lines:          lines,
	})
}

// Adjust posts a manual ADJUSTMENT. Removals need an approver when the policy says so.
func (s *Service) Adjust(ctx context.Context, actor shared.Actor, in AdjustInput) (PostResult, error) {
	if in.Operation == rules.OperationDeduct {
		if err := s.checkRemovalApproval(ctx, actor); err != nil {
			return PostResult{}, err
		}
	}
	entry, warnings, err := s.Append(ctx, AppendInput{
		TenantID:    actor.TenantID,
		ProductID:   in.ProductID,
		WarehouseID: in.WarehouseID,
		Direction:   DirectionAdjustment,
		Operation:   in.Operation,
		Quantity:    in.Quantity,
		Reason:      ReasonAdjustment,
		ActorID:     actor.ID,
		Note:        in.Note,
	})
	if err != nil {
		return PostResult{}, err
	}
	return PostResult{Entries: []Entry{entry}, Warnings: warnings}, nil
}

// Recount posts the ADJUSTMENT needed to bring the balance to the counted value.
// A count equal to the balance writes nothing.
func (s *Service) Recount(ctx context.Context, actor shared.Actor, in RecountInput) (PostResult, error) {
	if in.ProductID <= 0 || in.WarehouseID <= 0 {
		return PostResult{}, shared.Invalid("product_id/warehouse_id", "are required")
	}
	if in.Counted < 0 {
		return PostResult{}, shared.Invalid("counted", "must not be negative")
	}
	if actor.TenantID <= 0 || actor.ID <= 0 {
		return PostResult{}, shared.ErrUnauthorized
	}
	if err := s.checkKeys(ctx, actor.TenantID, []Line{{ProductID: in.ProductID, WarehouseID: in.WarehouseID}}); err != nil {
		return PostResult{}, err
	}
	policy, err := s.policyFor(ctx, actor.TenantID, Enforce)
	if err != nil {
		return PostResult{}, err
	}
	key := Key{TenantID: actor.TenantID, ProductID: in.ProductID, WarehouseID: in.WarehouseID}
	result := PostResult{Entries: []Entry{}, Warnings: []rules.Warning{}}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockLevel(ctx, key, actor.ID); err != nil {
			return err
		}
		current, err := tx.SumEntries(ctx, key)
		if err != nil {
			return err
		}
		delta := in.Counted - current
		if delta == 0 {
			return nil
		}
		op := rules.OperationAdd
		if delta < 0 {
			op = rules.OperationDeduct
			delta = -delta
			if policy.RequireApprovalForRemoval && !actor.IsApprover() {
				return shared.Denied("stock removal requires an approver")
			}
			// A recount reflects physical stock, so it may not be blocked by the negative-stock rule.
			policy.AllowNegativeStock = true
		}
		result, err = s.post(ctx, tx, policy, PostInput{
			TenantID:  actor.TenantID,
			ActorID:   actor.ID,
			Direction: DirectionAdjustment,
			Reason:    ReasonRecount,
			Mode:      Enforce,
			Lines:     []Line{{ProductID: in.ProductID, WarehouseID: in.WarehouseID, Quantity: delta, Operation: op, Note: in.Note}},
		})
		return err
	})
	if err != nil {
		return PostResult{}, err
	}
	s.observe(result)
	return result, nil
}

func (s *Service) checkRemovalApproval(ctx context.Context, actor shared.Actor) error {
	if actor.IsApprover() {
		return nil
	}
	policy, err := s.policyFor(ctx, actor.TenantID, Enforce)
	if err != nil {
		return err
	}
	if policy.RequireApprovalForRemoval {
		return shared.Denied("stock removal requires an approver")
	}
	return nil
}

// Balance returns the signed ledger sum for one key.
func (s *Service) Balance(ctx context.Context, tenantID, productID, warehouseID int64) (int64, error) {
	if tenantID <= 0 {
		return 0, shared.Invalid("tenant_id", "is required")
	}
	if productID <= 0 {
		return 0, shared.Invalid("product_id", "is required")
	}
	if warehouseID <= 0 {
		return 0, shared.Invalid("warehouse_id", "is required")
	}
	return s.repo.Balance(ctx, tenantID, productID, warehouseID)
}

// DeleteEntry removes an entry and recomputes its projection. Only admins may delete.
func (s *Service) DeleteEntry(ctx context.Context, actor shared.Actor, entryID int64) (Level, error) {
	if actor.Role != shared.RoleAdmin {
		return Level{}, shared.Denied("only admins may delete ledger entries")
	}
	if entryID <= 0 {
		return Level{}, shared.Invalid("id", "is required")
	}
	var (
		level   Level
		removed Entry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntry(ctx, actor.TenantID, entryID)
		if err != nil {
			return err
		}
		if _, err := tx.LockLevel(ctx, entry.Key(), actor.ID); err != nil {
			return err
		}
		if err := tx.DeleteEntry(ctx, actor.TenantID, entryID); err != nil {
			return err
		}
		sum, err := tx.SumEntries(ctx, entry.Key())
		if err != nil {
			return err
		}
		level, err = tx.SetOnHand(ctx, entry.Key(), sum)
		removed = entry
		return err
	})
	if err != nil {
		return Level{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: actor.TenantID,
			ActorID:  actor.ID,
			Action:   "LEDGER_ENTRY_DELETE",
			Entity:   "stock_ledger_entry",
			EntityID: strconv.FormatInt(entryID, 10),
			Meta: map[string]any{
				"product_id":   removed.ProductID,
				"warehouse_id": removed.WarehouseID,
				"direction":    removed.Direction,
				"quantity":     removed.Quantity,
			},
		})
	}
	return level, nil
}

// ListEntries returns ledger history visible to scope.
func (s *Service) ListEntries(ctx context.Context, scope access.Scope, filter EntryFilter) ([]Entry, error) {
	if filter.Direction != "" && !filter.Direction.Valid() {
		return nil, shared.Invalid("direction", "must be IN, OUT or ADJUSTMENT")
	}
	filter.Page = filter.Page.Normalize()
	return s.repo.ListEntries(ctx, scope, filter)
}

// ListStockLevels lists projections visible to scope. Asking for one exact key
// that has never been touched creates it with zero quantity and thresholds.
func (s *Service) ListStockLevels(ctx context.Context, scope access.Scope, filter LevelFilter) ([]Level, error) {
	filter.Page = filter.Page.Normalize()
	levels, err := s.repo.ListLevels(ctx, scope, filter)
	if err != nil {
		return nil, err
	}
	if len(levels) > 0 || filter.ProductID <= 0 || filter.WarehouseID <= 0 || filter.BelowReorder {
		return levels, nil
	}
	if err := s.checkKeys(ctx, scope.TenantID, []Line{{ProductID: filter.ProductID, WarehouseID: filter.WarehouseID}}); err != nil {
		return nil, err
	}
	key := Key{TenantID: scope.TenantID, ProductID: filter.ProductID, WarehouseID: filter.WarehouseID}
	var level Level
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		level, err = tx.LockLevel(ctx, key, scope.ActorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !scope.Allows(level.CreatedBy) {
		return []Level{}, nil
	}
	return []Level{level}, nil
}

// SetLevels updates reorder and minimum levels without touching the quantity.
func (s *Service) SetLevels(ctx context.Context, actor shared.Actor, in LevelsInput) (Level, error) {
	if !actor.IsApprover() {
		return Level{}, shared.Denied("only managers and admins may change stock levels")
	}
	if in.ProductID <= 0 || in.WarehouseID <= 0 {
		return Level{}, shared.Invalid("product_id/warehouse_id", "are required")
	}
	if in.ReorderLevel < 0 || in.MinStock < 0 {
		return Level{}, shared.Invalid("reorder_level/min_stock", "must not be negative")
	}
	if err := s.checkKeys(ctx, actor.TenantID, []Line{{ProductID: in.ProductID, WarehouseID: in.WarehouseID}}); err != nil {
		return Level{}, err
	}
	key := Key{TenantID: actor.TenantID, ProductID: in.ProductID, WarehouseID: in.WarehouseID}
	var level Level
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockLevel(ctx, key, actor.ID); err != nil {
			return err
		}
		var err error
		level, err = tx.SetThresholds(ctx, key, in.ReorderLevel, in.MinStock)
		return err
	})
	return level, err
}

// LowStock lists tenant levels at or below their reorder level.
func (s *Service) LowStock(ctx context.Context, tenantID int64) ([]Level, error) {
	if tenantID <= 0 {
		return nil, shared.Invalid("tenant_id", "is required")
	}
	return s.repo.ListLevels(ctx, access.Scope{TenantID: tenantID}, LevelFilter{BelowReorder: true, Page: shared.Page{Limit: 500}})
}

// Rebuild recomputes every projection of a tenant from its ledger.
func (s *Service) Rebuild(ctx context.Context, tenantID int64) (RebuildResult, error) {
	if tenantID <= 0 {
		return RebuildResult{}, shared.Invalid("tenant_id", "is required")
	}
	keys, err := s.repo.TenantKeys(ctx, tenantID)
	if err != nil {
		return RebuildResult{}, err
	}
	result := RebuildResult{Keys: len(keys)}
	for _, key := range keys {
		// WithTx may rerun the closure after a serialization failure.
		var corrected bool
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			corrected = false
			level, err := tx.LockLevel(ctx, key, 0)
			if err != nil {
				return err
			}
			sum, err := tx.SumEntries(ctx, key)
			if err != nil {
				return err
			}
			if sum == level.OnHand {
				return nil
			}
			if _, err := tx.SetOnHand(ctx, key, sum); err != nil {
				return err
			}
			corrected = true
			s.logger.Warn("ledger: projection drift corrected",
				slog.Int64("tenant_id", key.TenantID),
				slog.Int64("product_id", key.ProductID),
				slog.Int64("warehouse_id", key.WarehouseID),
				slog.Int64("cached", level.OnHand),
				slog.Int64("ledger", sum))
			return nil
		})
		if err != nil {
			return result, err
		}
		if corrected {
			result.Corrected++
		}
	}
	return result, nil
}
