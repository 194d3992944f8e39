package shared

import "context"

// Role is the actor's position in the tenant hierarchy.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleUser:
		return true
	}
	return false
}

// Actor is the identity supplied by the authentication layer.
type Actor struct {
	ID             int64
	TenantID       int64
	Role           Role
	SubordinateIDs []int64
}

// IsApprover reports whether the actor may approve on behalf of others.
func (a Actor) IsApprover() bool {
	return a.Role == RoleAdmin || a.Role == RoleManager
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
