package rules

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler wires HTTP endpoints for stock rules.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs rules handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers rules routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.getPolicy)
	r.Patch("/", h.updatePolicy)
	r.Post("/validate", h.validate)
}

type validateRequest struct {
	ProductID   int64     `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64     `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    int64     `json:"quantity" validate:"required,gt=0"`
	Operation   Operation `json:"operation" validate:"required,oneof=add deduct"`
}

func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	policy, err := h.service.GetPolicy(r.Context(), actor.TenantID)
	if err != nil {
		h.fail(w, "get policy", err)
		return
	}
	httpx.JSON(w, http.StatusOK, policy)
}

func (h *Handler) updatePolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var patch PolicyPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	policy, err := h.service.UpdatePolicy(r.Context(), actor, patch)
	if err != nil {
		h.fail(w, "update policy", err)
		return
	}
	httpx.JSON(w, http.StatusOK, policy)
}

// validate is advisory: a blocked deduction is reported in the body, not as an error status.
func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req validateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ValidateTransaction(r.Context(), actor.TenantID, req.ProductID, req.WarehouseID, req.Quantity, req.Operation)
	if err != nil && !errors.Is(err, shared.ErrInsufficientStock) {
		h.fail(w, "validate transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error("rules: "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
