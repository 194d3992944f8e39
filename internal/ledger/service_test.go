package ledger

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/access"
	"github.com/odyssey-erp/stockledger/internal/rules"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const (
	tenantID    = int64(1)
	productID   = int64(10)
	warehouseID = int64(20)

	otherTenant    = int64(2)
	otherProduct   = int64(77)
	otherWarehouse = int64(78)
)

func newTestService(policy rules.Policy) (*Service, *memoryRepo, *countingMetrics) {
	repo := newMemoryRepo()
	metrics := &countingMetrics{}
	svc := NewService(repo, &stubPolicies{policy: policy}, ServiceDeps{
		MasterData:  testCatalog(),
		Idempotency: &memoryIdempotency{},
		Audit:       &recordingAudit{},
		Metrics:     metrics,
	})
	return svc, repo, metrics
}

func testCatalog() *memoryCatalog {
	return &memoryCatalog{
		products:   map[int64][]int64{tenantID: {productID, productID + 1, 99}, otherTenant: {otherProduct}},
		warehouses: map[int64][]int64{tenantID: {warehouseID, 98}, otherTenant: {otherWarehouse}},
	}
}

func actorWith(role shared.Role, id int64) shared.Actor {
	return shared.Actor{ID: id, TenantID: tenantID, Role: role}
}

func sale(qty int64) PostInput {
	return PostInput{
		TenantID:  tenantID,
		ActorID:   5,
		Direction: DirectionOut,
		Reason:    ReasonSale,
		Mode:      Enforce,
		Lines:     []Line{{ProductID: productID, WarehouseID: warehouseID, Quantity: qty}},
	}
}

func receive(t *testing.T, svc *Service, qty int64) {
	t.Helper()
	_, err := svc.RecordReceipt(context.Background(), actorWith(shared.RoleUser, 5), ReceiptInput{
		Items: []ReceiptItem{{ProductID: productID, WarehouseID: warehouseID, Quantity: qty}},
	})
	require.NoError(t, err)
}

func TestBalanceMatchesSignedSumAndProjection(t *testing.T) {
	svc, repo, _ := newTestService(rules.DefaultPolicy(tenantID))
	ctx := context.Background()

	receive(t, svc, 40)
	_, err := svc.Post(ctx, sale(15))
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, actorWith(shared.RoleManager, 5), AdjustInput{
		ProductID: productID, WarehouseID: warehouseID, Quantity: 3, Operation: rules.OperationAdd,
	})
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, actorWith(shared.RoleManager, 5), AdjustInput{
		ProductID: productID, WarehouseID: warehouseID, Quantity: 8, Operation: rules.OperationDeduct,
	})
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, tenantID, productID, warehouseID)
	require.NoError(t, err)
	require.Equal(t, int64(20), balance)

	key := Key{TenantID: tenantID, ProductID: productID, WarehouseID: warehouseID}
	require.Equal(t, balance, repo.levels[key].OnHand)

	// Drift is repaired from the ledger.
	level := repo.levels[key]
	level.OnHand = 999
	repo.levels[key] = level
	result, err := svc.Rebuild(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 1, result.Corrected)
	require.Equal(t, int64(20), repo.levels[key].OnHand)
}

func TestSaleWarningsAndRejection(t *testing.T) {
	svc, repo, metrics := newTestService(rules.DefaultPolicy(tenantID))
	ctx := context.Background()

	receive(t, svc, 100)

	result, err := svc.Post(ctx, sale(95))
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	require.Equal(t, rules.WarningCritical, result.Warnings[0].Level)

	_, err = svc.Post(ctx, sale(10))
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var insufficient *shared.InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	require.Equal(t, int64(5), insufficient.Current)

	balance, err := svc.Balance(ctx, tenantID, productID, warehouseID)
	require.NoError(t, err)
	require.Equal(t, int64(5), balance)
	require.Len(t, repo.entries, 2)
	require.Equal(t, 1, metrics.rejections)
	require.Equal(t, 1, metrics.warnings[string(rules.WarningCritical)])
}

func TestNegativeStockAllowed(t *testing.T) {
	policy := rules.DefaultPolicy(tenantID)
	policy.AllowNegativeStock = true
	svc, _, _ := newTestService(policy)

	result, err := svc.Post(context.Background(), sale(7))
	require.NoError(t, err)
	require.Equal(t, rules.WarningNegative, result.Warnings[0].Level)

	balance, err := svc.Balance(context.Background(), tenantID, productID, warehouseID)
	require.NoError(t, err)
	require.Equal(t, int64(-7), balance)
}

func TestMultiLinePostIsAllOrNothing(t *testing.T) {
	svc, repo, _ := newTestService(rules.DefaultPolicy(tenantID))
	ctx := context.Background()
	receive(t, svc, 50)

	in := sale(10)
	in.Lines = append(in.Lines, Line{ProductID: productID + 1, WarehouseID: warehouseID, Quantity: 1})
	_, err := svc.Post(ctx, in)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Len(t, repo.entries, 1)

	balance, err := svc.Balance(ctx, tenantID, productID, warehouseID)
	require.NoError(t, err)
	require.Equal(t, int64(50), balance)
}

func TestPostRejectsInvalidInput(t *testing.T) {
	svc, _, _ := newTestService(rules.DefaultPolicy(tenantID))
	ctx := context.Background()

	in := sale(0)
	_, err := svc.Post(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = sale(1)
	in.Lines[0].WarehouseID = 0
	_, err = svc.Post(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = sale(1)
	in.Direction = DirectionAdjustment
	_, err = svc.Post(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReceiptDowngradesFailuresToWarnings(t *testing.T) {
	svc := NewService(newMemoryRepo(), &stubPolicies{err: errors.New("policy store down")}, ServiceDeps{})
	result, err := svc.RecordReceipt(context.Background(), actorWith(shared.RoleUser, 5), ReceiptInput{
		Items: []ReceiptItem{{ProductID: productID, WarehouseID: warehouseID, Quantity: 3}},
	})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	require.Equal(t, DirectionIn, result.Entries[0].Direction)
	require.Equal(t, rules.WarningCritical, result.Warnings[0].Level)
}

func TestReceiptReferenceIsIdempotent(t *testing.T) {
	svc, repo, _ := newTestService(rules.DefaultPolicy(tenantID))
	in := ReceiptInput{
		ReferenceID: "GRN-1",
		Items:       []ReceiptItem{{ProductID: productID, WarehouseID: warehouseID, Quantity: 3}},
	}
	_, err := svc.RecordReceipt(context.Background(), actorWith(shared.RoleUser, 5), in)
	require.NoError(t, err)
	_, err = svc.RecordReceipt(context.Background(), actorWith(shared.RoleUser, 5), in)
	require.ErrorIs(t, err, shared.ErrDuplicate)
	require.Len(t, repo.entries, 1)
}

func TestConcurrentDeductionsNeverOverdraw(t *testing.T) {
	svc, _, _ := newTestService(rules.DefaultPolicy(tenantID))
	receive(t, svc, 10)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Post(context.Background(), sale(3)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 3, succeeded)
	balance, err := svc.Balance(context.Background(), tenantID, productID, warehouseID)
	require.NoError(t, err)
	require.Equal(t, int64(1), balance)
}

func TestRecountPostsDelta(t *testing.T) {
	svc, repo, _ := newTestService(rules.DefaultPolicy(tenantID))
	ctx := context.Background()
	receive(t, svc, 30)

	result, err := svc.Recount(ctx, actorWith(shared.RoleManager, 5), RecountInput{ProductID: productID, WarehouseID: warehouseID, Counted: 26})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	require.Equal(t, ReasonRecount, result.Entries[0].Reason)
	require.Equal(t, -1, result.Entries[0].Sign)
	require.Equal(t, int64(4), result.Entries[0].Quantity)

	result, err = svc.Recount(ctx, actorWith(shared.RoleManager, 5), RecountInput{ProductID: productID, WarehouseID: warehouseID, Counted: 26})
	require.NoError(t, err)
	require.Empty(t, result.Entries)
	require.Len(t, repo.entries, 2)
}

func TestRemovalApproval(t *testing.T) {
	policy := rules.DefaultPolicy(tenantID)
	policy.RequireApprovalForRemoval = true
	svc, _, _ := newTestService(policy)
	ctx := context.Background()
	receive(t, svc, 30)

	deduct := AdjustInput{ProductID: productID, WarehouseID: warehouseID, Quantity: 2, Operation: rules.OperationDeduct}
	_, err := svc.Adjust(ctx, actorWith(shared.RoleUser, 5), deduct)
	require.ErrorIs(t, err, shared.ErrAccessDenied)

	_, err = svc.Recount(ctx, actorWith(shared.RoleUser, 5), RecountInput{ProductID: productID, WarehouseID: warehouseID, Counted: 1})
	require.ErrorIs(t, err, shared.ErrAccessDenied)

	_, err = svc.Adjust(ctx, actorWith(shared.RoleManager, 6), deduct)
	require.NoError(t, err)
}

func TestDeleteEntryRecomputesProjection(t *testing.T) {
	svc, repo, _ := newTestService(rules.DefaultPolicy(tenantID))
	ctx := context.Background()
	receive(t, svc, 30)
	result, err := svc.Post(ctx, sale(12))
	require.NoError(t, err)

	_, err = svc.DeleteEntry(ctx, actorWith(shared.RoleManager, 5), result.Entries[0].ID)
	require.ErrorIs(t, err, shared.ErrAccessDenied)

	level, err := svc.DeleteEntry(ctx, actorWith(shared.RoleAdmin, 1), result.Entries[0].ID)
	require.NoError(t, err)
	require.Equal(t, int64(30), level.OnHand)
	require.Len(t, repo.entries, 1)

	_, err = svc.DeleteEntry(ctx, actorWith(shared.RoleAdmin, 1), result.Entries[0].ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListStockLevelsFirstTouchAndScope(t *testing.T) {
	svc, _, _ := newTestService(rules.DefaultPolicy(tenantID))
	ctx := context.Background()

	userScope, err := access.ForActor(actorWith(shared.RoleUser, 5))
	require.NoError(t, err)
	levels, err := svc.ListStockLevels(ctx, userScope, LevelFilter{ProductID: 99, WarehouseID: 98})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	require.Zero(t, levels[0].OnHand)
	require.Zero(t, levels[0].ReorderLevel)
	require.Equal(t, int64(5), levels[0].CreatedBy)

	otherScope, err := access.ForActor(actorWith(shared.RoleUser, 6))
	require.NoError(t, err)
	levels, err = svc.ListStockLevels(ctx, otherScope, LevelFilter{})
	require.NoError(t, err)
	require.Empty(t, levels)

	adminScope, err := access.ForActor(actorWith(shared.RoleAdmin, 1))
	require.NoError(t, err)
	levels, err = svc.ListStockLevels(ctx, adminScope, LevelFilter{})
	require.NoError(t, err)
	require.Len(t, levels, 1)
}

func TestSetLevelsKeepsQuantity(t *testing.T) {
	svc, _, _ := newTestService(rules.DefaultPolicy(tenantID))
	ctx := context.Background()
	receive(t, svc, 12)

	in := LevelsInput{ProductID: productID, WarehouseID: warehouseID, ReorderLevel: 15, MinStock: 4}
	_, err := svc.SetLevels(ctx, actorWith(shared.RoleUser, 5), in)
	require.ErrorIs(t, err, shared.ErrAccessDenied)

	level, err := svc.SetLevels(ctx, actorWith(shared.RoleManager, 5), in)
	require.NoError(t, err)
	require.Equal(t, int64(12), level.OnHand)
	require.Equal(t, int64(15), level.ReorderLevel)

	low, err := svc.LowStock(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, low, 1)
}

func TestUnknownOrForeignKeysAreNotFound(t *testing.T) {
	svc, repo, _ := newTestService(rules.DefaultPolicy(tenantID))
	ctx := context.Background()
	manager := actorWith(shared.RoleManager, 5)

	_, err := svc.RecordReceipt(ctx, manager, ReceiptInput{
		Items: []ReceiptItem{{ProductID: 987654, WarehouseID: 123456, Quantity: 3}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)

	// Ids registered to another tenant are invisible here.
	_, err = svc.RecordReceipt(ctx, manager, ReceiptInput{
		Items: []ReceiptItem{{ProductID: otherProduct, WarehouseID: otherWarehouse, Quantity: 3}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Adjust(ctx, manager, AdjustInput{ProductID: otherProduct, WarehouseID: warehouseID, Quantity: 1, Operation: rules.OperationAdd})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Recount(ctx, manager, RecountInput{ProductID: productID, WarehouseID: otherWarehouse, Counted: 4})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.SetLevels(ctx, manager, LevelsInput{ProductID: 987654, WarehouseID: warehouseID, ReorderLevel: 2})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, _, err = svc.Append(ctx, AppendInput{
		TenantID: tenantID, ProductID: productID, WarehouseID: 123456,
		Direction: DirectionIn, Quantity: 2, Reason: ReasonReceipt, ActorID: 5,
	})
	require.ErrorIs(t, err, shared.ErrNotFound)

	scope, err := access.ForActor(manager)
	require.NoError(t, err)
	_, err = svc.ListStockLevels(ctx, scope, LevelFilter{ProductID: 987654, WarehouseID: 123456})
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.Empty(t, repo.entries)
	require.Empty(t, repo.levels)
}

func TestListEntriesRespectsScope(t *testing.T) {
	svc, _, _ := newTestService(rules.DefaultPolicy(tenantID))
	ctx := context.Background()

	book := func(tenant, actor, product, warehouse int64) {
		t.Helper()
		_, err := svc.Post(ctx, PostInput{
			TenantID: tenant, ActorID: actor, Direction: DirectionIn, Reason: ReasonReceipt, Mode: Advisory,
			Lines: []Line{{ProductID: product, WarehouseID: warehouse, Quantity: 4}},
		})
		require.NoError(t, err)
	}
	book(tenantID, 5, productID, warehouseID)
	book(tenantID, 6, productID, warehouseID)
	book(tenantID, 7, productID, warehouseID)
	book(otherTenant, 5, otherProduct, otherWarehouse)

	visible := func(actor shared.Actor) []int64 {
		t.Helper()
		scope, err := access.ForActor(actor)
		require.NoError(t, err)
		entries, err := svc.ListEntries(ctx, scope, EntryFilter{})
		require.NoError(t, err)
		actors := make([]int64, 0, len(entries))
		for _, e := range entries {
			require.Equal(t, actor.TenantID, e.TenantID)
			actors = append(actors, e.ActorID)
		}
		slices.Sort(actors)
		return actors
	}

	require.Equal(t, []int64{5}, visible(actorWith(shared.RoleUser, 5)))

	manager := actorWith(shared.RoleManager, 6)
	manager.SubordinateIDs = []int64{5}
	require.Equal(t, []int64{5, 6}, visible(manager))

	require.Equal(t, []int64{5, 6, 7}, visible(actorWith(shared.RoleAdmin, 1)))
	require.Equal(t, []int64{5}, visible(shared.Actor{ID: 1, TenantID: otherTenant, Role: shared.RoleAdmin}))
}

func TestAppendWritesSingleEntry(t *testing.T) {
	svc, repo, _ := newTestService(rules.DefaultPolicy(tenantID))
	ctx := context.Background()

	entry, warnings, err := svc.Append(ctx, AppendInput{
		TenantID: tenantID, ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionIn, Quantity: 12, Reason: ReasonReceipt, ActorID: 5, RefModule: "RECEIPT", RefID: "GRN-7",
	})
	require.NoError(t, err)
	require.Equal(t, 1, entry.Sign)
	require.Equal(t, "GRN-7", entry.RefID)
	require.Empty(t, warnings)

	entry, warnings, err = svc.Append(ctx, AppendInput{
		TenantID: tenantID, ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionOut, Quantity: 8, Reason: ReasonSale, ActorID: 5,
	})
	require.NoError(t, err)
	require.Equal(t, -1, entry.Sign)
	require.Equal(t, rules.WarningCritical, warnings[0].Level)

	_, _, err = svc.Append(ctx, AppendInput{
		TenantID: tenantID, ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionOut, Quantity: 5, Reason: ReasonSale, ActorID: 5,
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Len(t, repo.entries, 2)

	key := Key{TenantID: tenantID, ProductID: productID, WarehouseID: warehouseID}
	require.Equal(t, int64(4), repo.levels[key].OnHand)
}

func TestRebuildCountsRetriedCorrectionOnce(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(retryOnceRepo{repo}, &stubPolicies{policy: rules.DefaultPolicy(tenantID)}, ServiceDeps{})
	receive(t, svc, 9)

	key := Key{TenantID: tenantID, ProductID: productID, WarehouseID: warehouseID}
	level := repo.levels[key]
	level.OnHand = 1
	repo.levels[key] = level

	result, err := svc.Rebuild(context.Background(), tenantID)
	require.NoError(t, err)
	require.Equal(t, RebuildResult{Keys: 1, Corrected: 1}, result)
	require.Equal(t, int64(9), repo.levels[key].OnHand)
}
