package rules

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

type memoryRepo struct {
	mu       sync.Mutex
	policies map[int64]Policy
	loads    int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{policies: make(map[int64]Policy)}
}

func (r *memoryRepo) GetOrCreate(ctx context.Context, defaults Policy) (Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	if p, ok := r.policies[defaults.TenantID]; ok {
		return p, nil
	}
	r.policies[defaults.TenantID] = defaults
	return defaults, nil
}

func (r *memoryRepo) Update(ctx context.Context, defaults Policy, apply func(Policy) (Policy, error)) (Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.policies[defaults.TenantID]
	if !ok {
		current = defaults
	}
	next, err := apply(current)
	if err != nil {
		return Policy{}, err
	}
	next.UpdatedAt = time.Now().UTC()
	r.policies[next.TenantID] = next
	return next, nil
}

// liveCtxRepo fails loads attempted with a finished context.
type liveCtxRepo struct {
	*memoryRepo
}

func (r liveCtxRepo) GetOrCreate(ctx context.Context, defaults Policy) (Policy, error) {
	if err := ctx.Err(); err != nil {
		return Policy{}, err
	}
	return r.memoryRepo.GetOrCreate(ctx, defaults)
}

type stubStock map[string]int64

func (s stubStock) Balance(ctx context.Context, tenantID, productID, warehouseID int64) (int64, error) {
	return s[fmt.Sprintf("%d:%d:%d", tenantID, productID, warehouseID)], nil
}

func admin(tenantID int64) shared.Actor {
	return shared.Actor{ID: 1, TenantID: tenantID, Role: shared.RoleAdmin}
}

func TestGetPolicyCreatesDefaultsOnce(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	p, err := svc.GetPolicy(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, DefaultPolicy(7), p)
	require.False(t, p.AllowNegativeStock)
	require.True(t, p.AutoDeductSales)
	require.False(t, p.AutoReceivePurchase)

	_, err = svc.GetPolicy(ctx, 7)
	require.NoError(t, err)
	require.Len(t, repo.policies, 1)
}

func TestGetPolicyRequiresTenant(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil)
	_, err := svc.GetPolicy(context.Background(), 0)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdatePolicyAppliesPatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	allow := true
	low := int64(20)
	p, err := svc.UpdatePolicy(ctx, admin(3), PolicyPatch{AllowNegativeStock: &allow, LowStockThreshold: &low})
	require.NoError(t, err)
	require.True(t, p.AllowNegativeStock)
	require.Equal(t, int64(20), p.LowStockThreshold)
	require.Equal(t, int64(5), p.CriticalStockThreshold)

	allowed, err := svc.IsNegativeStockAllowed(ctx, 3)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestUpdatePolicyRejectsInconsistentThresholds(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil)
	critical := int64(50)
	_, err := svc.UpdatePolicy(context.Background(), admin(3), PolicyPatch{CriticalStockThreshold: &critical})
	require.ErrorIs(t, err, shared.ErrValidation)

	negative := int64(-1)
	_, err = svc.UpdatePolicy(context.Background(), admin(3), PolicyPatch{LowStockThreshold: &negative})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdatePolicyRequiresAdmin(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil)
	allow := true
	_, err := svc.UpdatePolicy(context.Background(), shared.Actor{ID: 2, TenantID: 3, Role: shared.RoleManager}, PolicyPatch{AllowNegativeStock: &allow})
	require.ErrorIs(t, err, shared.ErrAccessDenied)
}

func TestAccessorsReadPolicy(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()
	on := true
	_, err := svc.UpdatePolicy(ctx, admin(4), PolicyPatch{AutoReceivePurchase: &on, RequireApprovalForRemoval: &on})
	require.NoError(t, err)

	receive, err := svc.ShouldAutoReceivePurchase(ctx, 4)
	require.NoError(t, err)
	require.True(t, receive)
	deduct, err := svc.ShouldAutoDeductSales(ctx, 4)
	require.NoError(t, err)
	require.True(t, deduct)
	approval, err := svc.RequiresApproval(ctx, 4)
	require.NoError(t, err)
	require.True(t, approval)
}

func TestValidateTransactionUsesCurrentBalance(t *testing.T) {
	stock := stubStock{"1:10:20": 12}
	svc := NewService(newMemoryRepo(), nil, stock, nil, nil)
	ctx := context.Background()

	v, err := svc.ValidateTransaction(ctx, 1, 10, 20, 5, OperationDeduct)
	require.NoError(t, err)
	require.True(t, v.Allowed)
	require.Equal(t, int64(12), v.CurrentStock)
	require.Equal(t, int64(7), v.NewStock)
	require.Len(t, v.Warnings, 1)
	require.Equal(t, WarningLow, v.Warnings[0].Level)

	v, err = svc.ValidateTransaction(ctx, 1, 10, 20, 13, OperationDeduct)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.False(t, v.Allowed)

	_, err = svc.ValidateTransaction(ctx, 1, 0, 20, 1, OperationAdd)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGetPolicyServesFromRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryRepo()
	svc := NewService(repo, NewCache(client, time.Minute), nil, nil, nil)
	ctx := context.Background()

	_, err := svc.GetPolicy(ctx, 9)
	require.NoError(t, err)
	_, err = svc.GetPolicy(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, 1, repo.loads)
	require.True(t, mr.Exists(policyKey(9)))

	on := true
	_, err = svc.UpdatePolicy(ctx, admin(9), PolicyPatch{AllowNegativeStock: &on})
	require.NoError(t, err)
	require.False(t, mr.Exists(policyKey(9)))

	p, err := svc.GetPolicy(ctx, 9)
	require.NoError(t, err)
	require.True(t, p.AllowNegativeStock)
}

func TestGetPolicyFallsBackWhenCacheDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	svc := NewService(newMemoryRepo(), NewCache(client, time.Minute), nil, nil, nil)
	p, err := svc.GetPolicy(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), p.TenantID)
}

func TestGetPolicyLoadIgnoresCallerCancellation(t *testing.T) {
	svc := NewService(liveCtxRepo{newMemoryRepo()}, nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := svc.GetPolicy(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, DefaultPolicy(4), p)
}

func TestConcurrentUpdatesKeepEveryField(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()
	on := true

	patches := []PolicyPatch{
		{AllowNegativeStock: &on},
		{AutoReceivePurchase: &on},
		{TrackBatches: &on},
		{TrackExpiry: &on},
		{EnableBarcodeScanning: &on},
		{RequireApprovalForRemoval: &on},
	}
	var wg sync.WaitGroup
	for _, patch := range patches {
		wg.Add(1)
		go func(patch PolicyPatch) {
			defer wg.Done()
			_, err := svc.UpdatePolicy(ctx, admin(6), patch)
			require.NoError(t, err)
		}(patch)
	}
	wg.Wait()

	p, err := svc.GetPolicy(ctx, 6)
	require.NoError(t, err)
	require.True(t, p.AllowNegativeStock)
	require.True(t, p.AutoReceivePurchase)
	require.True(t, p.TrackBatches)
	require.True(t, p.TrackExpiry)
	require.True(t, p.EnableBarcodeScanning)
	require.True(t, p.RequireApprovalForRemoval)
}
