package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/profiqo/golang_services/internal/core_domain"
	"github.com/profiqo/golang_services/internal/public_api_service/middleware"
	schedulerApp "github.com/profiqo/golang_services/internal/scheduler_service/app"
)

const defaultRecentTake = 100

// DispatchStore is the part of the dispatch queue the admin API touches.
type DispatchStore interface {
	EnqueueManual(ctx context.Context, e *core_domain.DispatchEntry) error
	ListRecent(ctx context.Context, tenantID uuid.UUID, take int) ([]*core_domain.DispatchEntry, error)
}

type JobRunner interface {
	RunJobNow(ctx context.Context, tenantID, jobID uuid.UUID) (int, error)
}

type OrderEventIngester interface {
	Ingest(ctx context.Context, source string, msg schedulerApp.OrderEventMessage) (bool, error)
}

type DispatchHandler struct {
	store    DispatchStore
	runner   JobRunner
	events   OrderEventIngester
	location *time.Location // manual entries are dated in this zone
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewDispatchHandler(
	store DispatchStore,
	runner JobRunner,
	events OrderEventIngester,
	location *time.Location,
	logger *slog.Logger,
	validate *validator.Validate,
) *DispatchHandler {
	if location == nil {
		location = time.UTC
	}
	return &DispatchHandler{
		store:    store,
		runner:   runner,
		events:   events,
		location: location,
		logger:   logger.With("handler", "dispatch"),
		validate: validate,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes mounts the tenant-scoped admin routes.
func (h *DispatchHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.TenantMiddleware(h.logger))
		r.Get("/dispatch/recent", h.ListRecent)
		r.Post("/dispatch/manual-enqueue", h.ManualEnqueue)
		r.Post("/jobs/{jobID}/run-now", h.RunNow)
		r.Post("/order-events", h.PostOrderEvent)
	})
}

func (h *DispatchHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := middleware.TenantIDFromContext(ctx)

	take := defaultRecentTake
	if raw := r.URL.Query().Get("take"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.jsonError(w, "take must be an integer", http.StatusBadRequest)
			return
		}
		take = n
	}

	entries, err := h.store.ListRecent(ctx, tenantID, core_domain.ClampRecentTake(take))
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list recent dispatches", "error", err, "tenant_id", tenantID)
		h.jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	resp := RecentDispatchesResponseDTO{Items: make([]DispatchEntryDTO, 0, len(entries))}
	for _, e := range entries {
		resp.Items = append(resp.Items, toDispatchEntryDTO(e))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *DispatchHandler) ManualEnqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := middleware.TenantIDFromContext(ctx)

	var req ManualEnqueueRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode manual enqueue request", "error", err)
		h.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		h.logger.WarnContext(ctx, "Validation failed for manual enqueue", "error", err)
		h.jsonError(w, fmt.Sprintf("Validation error: %s", err.Error()), http.StatusBadRequest)
		return
	}

	now := h.now()
	planned := now
	if req.PlannedAtUTC != nil {
		planned = req.PlannedAtUTC.UTC()
	}
	localDate := core_domain.LocalDateOf(now.In(h.location))
	entry := core_domain.NewQueuedDispatch(tenantID, req.JobID, req.RuleID, req.CustomerID, req.ToE164, req.MessageNo, req.TemplateID, planned, localDate)

	if err := h.store.EnqueueManual(ctx, entry); err != nil {
		if errors.Is(err, core_domain.ErrDuplicateDispatch) {
			h.jsonError(w, "A dispatch for this job, customer, day and message number already exists.", http.StatusConflict)
			return
		}
		h.logger.ErrorContext(ctx, "Failed to enqueue manual dispatch", "error", err, "tenant_id", tenantID)
		h.jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, ManualEnqueueResponseDTO{ID: entry.ID, LocalDate: localDate.String()})
}

func (h *DispatchHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := middleware.TenantIDFromContext(ctx)

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		h.jsonError(w, "Invalid job ID format", http.StatusBadRequest)
		return
	}

	n, err := h.runner.RunJobNow(ctx, tenantID, jobID)
	if err != nil {
		if errors.Is(err, core_domain.ErrNotFound) {
			h.jsonError(w, "Job or rule not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "Failed to run job now", "error", err, "job_id", jobID)
		h.jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, RunNowResponseDTO{Enqueued: n})
}

func (h *DispatchHandler) PostOrderEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := middleware.TenantIDFromContext(ctx)

	var req OrderEventRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	stored, err := h.events.Ingest(ctx, "http", schedulerApp.OrderEventMessage{
		TenantID:      tenantID,
		OrderID:       req.OrderID,
		CustomerID:    req.CustomerID,
		ToE164:        req.ToE164,
		OccurredAtUTC: req.OccurredAtUTC,
	})
	if err != nil {
		var vErr *schedulerApp.ValidationError
		if errors.As(err, &vErr) {
			h.jsonError(w, fmt.Sprintf("Validation error: %s", vErr.Err.Error()), http.StatusBadRequest)
			return
		}
		h.logger.ErrorContext(ctx, "Failed to ingest order event", "error", err, "order_id", req.OrderID)
		h.jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	status := http.StatusAccepted
	if !stored {
		status = http.StatusOK
	}
	h.writeJSON(w, status, OrderEventResponseDTO{Stored: stored})
}

func (h *DispatchHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *DispatchHandler) jsonError(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSON(w, statusCode, MessageResponseDTO{Message: message})
}
