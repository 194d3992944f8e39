package jobs

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// QueueInspector reports queue state.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Scheduler queues tenant maintenance on demand. *Client satisfies it.
type Scheduler interface {
	EnqueueProjectionRebuild(ctx context.Context, tenantID int64) (*asynq.TaskInfo, error)
	EnqueueLowStockScan(ctx context.Context, tenantID int64) (*asynq.TaskInfo, error)
}

// Handler exposes queue health and admin triggers over HTTP.
type Handler struct {
	inspector QueueInspector
	scheduler Scheduler
	logger    *slog.Logger
}

// NewHandler constructs the jobs handler. Either collaborator may be nil.
func NewHandler(inspector QueueInspector, scheduler Scheduler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, scheduler: scheduler, logger: logger}
}

// MountRoutes attaches the unauthenticated health route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

// MountAdminRoutes attaches trigger routes; they expect an authenticated actor.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Post("/projection-rebuild", h.trigger(func(s Scheduler) enqueueFunc { return s.EnqueueProjectionRebuild }))
	r.Post("/low-stock-scan", h.trigger(func(s Scheduler) enqueueFunc { return s.EnqueueLowStockScan }))
}

type queueHealth struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
	Failed  int    `json:"failed"`
}

type enqueued struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Queue string `json:"queue"`
}

type enqueueFunc func(ctx context.Context, tenantID int64) (*asynq.TaskInfo, error)

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	out := queueHealth{Queue: QueueDefault}
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, out)
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), "queue unavailable")
		return
	}
	if info != nil {
		out.Queue = info.Queue
		out.Pending = info.Pending
		out.Active = info.Active
		out.Failed = info.Retry + info.Archived
	}
	httpx.JSON(w, http.StatusOK, out)
}

// trigger enqueues a task scoped to the admin's own tenant.
func (h *Handler) trigger(pick func(Scheduler) enqueueFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := httpx.RequireActor(w, r)
		if !ok {
			return
		}
		if actor.Role != shared.RoleAdmin {
			httpx.RespondError(w, shared.Denied("only admins may trigger maintenance jobs"))
			return
		}
		if h.scheduler == nil {
			httpx.Problem(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), "job queue not configured")
			return
		}
		info, err := pick(h.scheduler)(r.Context(), actor.TenantID)
		if err != nil {
			h.logger.Error("jobs trigger", slog.Int64("tenant_id", actor.TenantID), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		h.logger.Info("job enqueued", slog.String("type", info.Type), slog.String("id", info.ID), slog.Int64("tenant_id", actor.TenantID))
		httpx.JSON(w, http.StatusAccepted, enqueued{ID: info.ID, Type: info.Type, Queue: info.Queue})
	}
}
