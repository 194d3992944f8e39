// Package access derives the data an actor may read or write from their role and tenant.
package access

import (
	"slices"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// FilterOp selects how the owner column is matched.
type FilterOp string

const (
	OpEq FilterOp = "eq"
	OpIn FilterOp = "in"
)

// OwnerFilter restricts rows to a set of owner ids.
type OwnerFilter struct {
	Op  FilterOp `json:"op"`
	IDs []int64  `json:"ids"`
}

// Scope is the tenant plus optional owner restriction for one actor.
// A nil Owner means every row of the tenant is visible.
type Scope struct {
	TenantID int64        `json:"tenant_id"`
	ActorID  int64        `json:"actor_id"`
	Role     shared.Role  `json:"role"`
	Owner    *OwnerFilter `json:"owner,omitempty"`
}

// Resolve computes the scope for role within tenant.
func Resolve(role shared.Role, actorID, tenantID int64, subordinateIDs []int64) (Scope, error) {
	if tenantID <= 0 {
		return Scope{}, shared.Invalid("tenant_id", "is required")
	}
	if actorID <= 0 {
		return Scope{}, shared.Invalid("actor_id", "is required")
	}
	scope := Scope{TenantID: tenantID, ActorID: actorID, Role: role}
	switch role {
	case shared.RoleAdmin:
		return scope, nil
	case shared.RoleManager:
		ids := []int64{actorID}
		for _, id := range subordinateIDs {
			if id > 0 && !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
		scope.Owner = &OwnerFilter{Op: OpIn, IDs: ids}
		return scope, nil
	case shared.RoleUser:
		scope.Owner = &OwnerFilter{Op: OpEq, IDs: []int64{actorID}}
		return scope, nil
	default:
		return Scope{}, shared.Invalid("role", "is not recognised")
	}
}

// ForActor resolves the scope of an authenticated actor.
func ForActor(actor shared.Actor) (Scope, error) {
	return Resolve(actor.Role, actor.ID, actor.TenantID, actor.SubordinateIDs)
}

// Unrestricted reports whether the scope covers the whole tenant.
func (s Scope) Unrestricted() bool {
	return s.Owner == nil
}

// Allows reports whether ownerID falls inside the owner filter.
func (s Scope) Allows(ownerID int64) bool {
	if s.Unrestricted() {
		return true
	}
	return slices.Contains(s.Owner.IDs, ownerID)
}

// CanAct checks a resource's tenant and owner against the scope, however the resource was loaded.
func CanAct(scope Scope, resourceTenantID, resourceOwnerID int64) error {
	if scope.TenantID == 0 || resourceTenantID != scope.TenantID {
		return shared.Denied("resource belongs to another tenant")
	}
	if !scope.Allows(resourceOwnerID) {
		return shared.Denied("resource is outside the actor's scope")
	}
	return nil
}
