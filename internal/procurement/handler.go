package procurement

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/access"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler manages purchase order endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.submit)
	r.Get("/{id}", h.get)
	r.Get("/{id}/approvals", h.approvals)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/receive", h.receive)
	r.Post("/{id}/cancel", h.cancel)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req SubmitInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Submit(r.Context(), actor, req)
	if err != nil {
		h.fail(w, "submit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	po, err := h.service.Approve(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "approve", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	result, err := h.service.Receive(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "receive", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	po, err := h.service.Cancel(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "cancel", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.fail(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	po, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) approvals(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	logs, err := h.service.Approvals(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "approvals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"approvals": logs})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	scope, err := access.ForActor(actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := ListFilter{Status: Status(r.URL.Query().Get("status"))}
	if filter.SupplierID, err = httpx.QueryInt64(r, "supplier_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Page, err = httpx.QueryPage(r); err != nil {
		httpx.RespondError(w, err)
		return
	}
	orders, err := h.service.List(r.Context(), scope, filter)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_orders": orders})
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (shared.Actor, int64, bool) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return shared.Actor{}, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.Invalid("id", "must be a positive integer"))
		return shared.Actor{}, 0, false
	}
	return actor, id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error("procurement: "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
