package forecast

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/access"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Handler serves depletion forecasts.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs forecast handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers forecast routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.forecast)
}

func (h *Handler) forecast(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	productID, err := httpx.QueryInt64(r, "product_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	scope, err := access.ForActor(actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	forecasts, err := h.service.ForecastDepletion(r.Context(), scope, productID)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("forecast: depletion", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"forecasts": forecasts})
}
