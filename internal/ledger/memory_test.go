package ledger

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/odyssey-erp/stockledger/internal/access"
	"github.com/odyssey-erp/stockledger/internal/masterdata"
	"github.com/odyssey-erp/stockledger/internal/rules"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	entries []Entry
	levels  map[Key]Level
	nextID  int64
}

type memoryTx struct {
	repo *memoryRepo
}

type inTxKey struct{}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{levels: make(map[Key]Level)}
}

// WithTx serialises callers and restores the previous state when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx, &memoryTx{repo: r})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := slices.Clone(r.entries)
	levels := make(map[Key]Level, len(r.levels))
	for k, v := range r.levels {
		levels[k] = v
	}
	nextID := r.nextID
	if err := fn(context.WithValue(ctx, inTxKey{}, true), &memoryTx{repo: r}); err != nil {
		r.entries, r.levels, r.nextID = entries, levels, nextID
		return err
	}
	return nil
}

func (r *memoryRepo) sum(key Key) int64 {
	var total int64
	for _, e := range r.entries {
		if e.Key() == key {
			total += e.Signed()
		}
	}
	return total
}

func (r *memoryRepo) Balance(ctx context.Context, tenantID, productID, warehouseID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sum(Key{TenantID: tenantID, ProductID: productID, WarehouseID: warehouseID}), nil
}

func (r *memoryRepo) ListEntries(ctx context.Context, scope access.Scope, filter EntryFilter) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Entry{}
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.TenantID != scope.TenantID || !scope.Allows(e.ActorID) {
			continue
		}
		if filter.ProductID > 0 && e.ProductID != filter.ProductID {
			continue
		}
		if filter.Direction != "" && e.Direction != filter.Direction {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *memoryRepo) ListLevels(ctx context.Context, scope access.Scope, filter LevelFilter) ([]Level, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Level{}
	for _, l := range r.levels {
		if l.TenantID != scope.TenantID || !scope.Allows(l.CreatedBy) {
			continue
		}
		if filter.ProductID > 0 && l.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID > 0 && l.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.BelowReorder && (l.ReorderLevel == 0 || l.OnHand > l.ReorderLevel) {
			continue
		}
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b Level) int {
		if a.Key().Less(b.Key()) {
			return -1
		}
		return 1
	})
	return out, nil
}

func (r *memoryRepo) TenantKeys(ctx context.Context, tenantID int64) ([]Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []Key
	for k := range r.levels {
		if k.TenantID == tenantID {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (tx *memoryTx) LockLevel(ctx context.Context, key Key, actorID int64) (Level, error) {
	if l, ok := tx.repo.levels[key]; ok {
		return l, nil
	}
	l := Level{TenantID: key.TenantID, ProductID: key.ProductID, WarehouseID: key.WarehouseID, CreatedBy: actorID, UpdatedAt: time.Now()}
	tx.repo.levels[key] = l
	return l, nil
}

func (tx *memoryTx) SumEntries(ctx context.Context, key Key) (int64, error) {
	return tx.repo.sum(key), nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	tx.repo.nextID++
	entry.ID = tx.repo.nextID
	entry.CreatedAt = time.Now()
	tx.repo.entries = append(tx.repo.entries, entry)
	return entry, nil
}

func (tx *memoryTx) SetOnHand(ctx context.Context, key Key, onHand int64) (Level, error) {
	l, ok := tx.repo.levels[key]
	if !ok {
		return Level{}, ErrLevelNotFound
	}
	l.OnHand = onHand
	tx.repo.levels[key] = l
	return l, nil
}

func (tx *memoryTx) SetThresholds(ctx context.Context, key Key, reorderLevel, minStock int64) (Level, error) {
	l, ok := tx.repo.levels[key]
	if !ok {
		return Level{}, ErrLevelNotFound
	}
	l.ReorderLevel, l.MinStock = reorderLevel, minStock
	tx.repo.levels[key] = l
	return l, nil
}

func (tx *memoryTx) GetEntry(ctx context.Context, tenantID, id int64) (Entry, error) {
	for _, e := range tx.repo.entries {
		if e.ID == id && e.TenantID == tenantID {
			return e, nil
		}
	}
	return Entry{}, shared.NotFound("ledger entry", id)
}

func (tx *memoryTx) DeleteEntry(ctx context.Context, tenantID, id int64) error {
	for i, e := range tx.repo.entries {
		if e.ID == id && e.TenantID == tenantID {
			tx.repo.entries = slices.Delete(tx.repo.entries, i, i+1)
			return nil
		}
	}
	return shared.NotFound("ledger entry", id)
}

// retryOnceRepo runs every transaction twice, discarding the first attempt the way
// db.WithTx does after a serialization failure.
type retryOnceRepo struct {
	*memoryRepo
}

var errSerialization = errors.New("could not serialize access")

func (r retryOnceRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := r.memoryRepo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return errSerialization
	})
	if !errors.Is(err, errSerialization) {
		return err
	}
	return r.memoryRepo.WithTx(ctx, fn)
}

// memoryCatalog holds the products and warehouses registered per tenant.
type memoryCatalog struct {
	products   map[int64][]int64
	warehouses map[int64][]int64
}

func (c *memoryCatalog) WarehouseExists(ctx context.Context, tenantID, warehouseID int64) error {
	if !slices.Contains(c.warehouses[tenantID], warehouseID) {
		return shared.NotFound("warehouse", warehouseID)
	}
	return nil
}

func (c *memoryCatalog) Products(ctx context.Context, tenantID int64, ids []int64) (map[int64]masterdata.Product, error) {
	out := make(map[int64]masterdata.Product, len(ids))
	for _, id := range ids {
		if !slices.Contains(c.products[tenantID], id) {
			return nil, shared.NotFound("product", id)
		}
		out[id] = masterdata.Product{ID: id, TenantID: tenantID, IsActive: true}
	}
	return out, nil
}

type stubPolicies struct {
	policy rules.Policy
	err    error
}

func (s *stubPolicies) GetPolicy(ctx context.Context, tenantID int64) (rules.Policy, error) {
	if s.err != nil {
		return rules.Policy{}, s.err
	}
	p := s.policy
	p.TenantID = tenantID
	return p, nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, tenantID int64, module, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	k := module + "|" + key
	if m.seen[k] {
		return shared.ErrIdempotencyConflict
	}
	m.seen[k] = true
	return nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type countingMetrics struct {
	mu         sync.Mutex
	entries    int
	rejections int
	warnings   map[string]int
}

func (m *countingMetrics) ObserveEntry(direction, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries++
}

func (m *countingMetrics) ObserveRejection(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections++
}

func (m *countingMetrics) ObserveWarning(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.warnings == nil {
		m.warnings = make(map[string]int)
	}
	m.warnings[level]++
}
