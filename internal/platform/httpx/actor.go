package httpx

import (
	"net/http"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RequireActor returns the authenticated actor or writes a 401 problem.
func RequireActor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || actor.ID == 0 || actor.TenantID == 0 {
		RespondError(w, shared.ErrUnauthorized)
		return shared.Actor{}, false
	}
	return actor, true
}
