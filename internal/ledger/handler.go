package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/access"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler wires HTTP endpoints for the ledger and stock levels.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/receipts", h.recordReceipt)
	r.Get("/balance", h.balance)
	r.Get("/entries", h.listEntries)
	r.Delete("/entries/{id}", h.deleteEntry)
	r.Post("/adjustments", h.adjust)
	r.Post("/recounts", h.recount)
}

// MountLevelRoutes registers stock level routes.
func (h *Handler) MountLevelRoutes(r chi.Router) {
	r.Get("/", h.listLevels)
	r.Put("/levels", h.setLevels)
}

func (h *Handler) recordReceipt(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req ReceiptInput
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.RecordReceipt(r.Context(), actor, req)
	if err != nil {
		h.fail(w, "record receipt", err)
		return
	}
	if len(result.Warnings) > 0 {
		h.logger.Info("ledger: receipt recorded with warnings",
			slog.Int64("tenant_id", actor.TenantID),
			slog.String("reference_id", req.ReferenceID),
			slog.Int("warnings", len(result.Warnings)))
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	productID, err := httpx.QueryInt64(r, "product_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	warehouseID, err := httpx.QueryInt64(r, "warehouse_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, err := h.service.Balance(r.Context(), actor.TenantID, productID, warehouseID)
	if err != nil {
		h.fail(w, "balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":   productID,
		"warehouse_id": warehouseID,
		"balance":      balance,
	})
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	filter, err := parseEntryFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	scope, err := access.ForActor(actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.ListEntries(r.Context(), scope, filter)
	if err != nil {
		h.fail(w, "list entries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Invalid("id", "must be an integer"))
		return
	}
	level, err := h.service.DeleteEntry(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "delete entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req AdjustInput
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Adjust(r.Context(), actor, req)
	if err != nil {
		h.fail(w, "adjust", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) recount(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req RecountInput
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Recount(r.Context(), actor, req)
	if err != nil {
		h.fail(w, "recount", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listLevels(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var filter LevelFilter
	var err error
	if filter.ProductID, err = httpx.QueryInt64(r, "product_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.WarehouseID, err = httpx.QueryInt64(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Page, err = httpx.QueryPage(r); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.BelowReorder = r.URL.Query().Get("below_reorder") == "true"
	scope, err := access.ForActor(actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	levels, err := h.service.ListStockLevels(r.Context(), scope, filter)
	if err != nil {
		h.fail(w, "list levels", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stock_levels": levels})
}

func (h *Handler) setLevels(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req LevelsInput
	if !h.decode(w, r, &req) {
		return
	}
	level, err := h.service.SetLevels(r.Context(), actor, req)
	if err != nil {
		h.fail(w, "set levels", err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := httpx.Validate(target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error("ledger: "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseEntryFilter(r *http.Request) (EntryFilter, error) {
	var (
		filter EntryFilter
		err    error
	)
	if filter.ProductID, err = httpx.QueryInt64(r, "product_id"); err != nil {
		return filter, err
	}
	if filter.WarehouseID, err = httpx.QueryInt64(r, "warehouse_id"); err != nil {
		return filter, err
	}
	if filter.Page, err = httpx.QueryPage(r); err != nil {
		return filter, err
	}
	filter.Direction = Direction(r.URL.Query().Get("direction"))
	if raw := r.URL.Query().Get("from"); raw != "" {
		if filter.From, err = time.Parse("2006-01-02", raw); err != nil {
			return filter, shared.Invalid("from", "must be YYYY-MM-DD")
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if filter.To, err = time.Parse("2006-01-02", raw); err != nil {
			return filter, shared.Invalid("to", "must be YYYY-MM-DD")
		}
		filter.To = filter.To.AddDate(0, 0, 1)
	}
	return filter, nil
}
