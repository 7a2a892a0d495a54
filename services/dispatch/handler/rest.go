package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/campusrun/dispatch/internal/assign"
	"github.com/campusrun/dispatch/internal/domain"
	"github.com/campusrun/dispatch/internal/postgres"
	redisstore "github.com/campusrun/dispatch/internal/redis"
	"github.com/campusrun/dispatch/pkg/telemetry"
)

// Assigner runs the initial assignment for one task.
type Assigner interface {
	Assign(ctx context.Context, taskID string) (assign.Result, error)
}

// Sweeper processes one batch of expired offers.
type Sweeper interface {
	Sweep(ctx context.Context) (assign.Summary, error)
}

// REST handles HTTP requests for the dispatch service.
type REST struct {
	tasks      postgres.TaskStore
	dispatcher Assigner
	reassigner Sweeper
	limiter    redisstore.RateLimiter
	db         *pgxpool.Pool
	logger     *slog.Logger
}

// NewREST creates a new REST handler. db may be nil; Readyz then only
// reports process liveness.
func NewREST(
	tasks postgres.TaskStore,
	dispatcher Assigner,
	reassigner Sweeper,
	limiter redisstore.RateLimiter,
	db *pgxpool.Pool,
	logger *slog.Logger,
) *REST {
	return &REST{
		tasks:      tasks,
		dispatcher: dispatcher,
		reassigner: reassigner,
		limiter:    limiter,
		db:         db,
		logger:     logger,
	}
}

// CreateTaskRequest is the JSON body for POST /api/v1/tasks. Categories is a
// single comma-separated string, matching what the mobile client sends.
type CreateTaskRequest struct {
	RequesterID string   `json:"requester_id"`
	Kind        string   `json:"kind"`
	Title       string   `json:"title"`
	Categories  string   `json:"categories"`
	Lat         *float64 `json:"lat,omitempty"`
	Lon         *float64 `json:"lon,omitempty"`
}

// CreateTaskResponse is the 201 response body: the created task plus the
// outcome of the assignment attempt that ran inline.
type CreateTaskResponse struct {
	TaskID           string    `json:"task_id"`
	Status           string    `json:"status"`
	Outcome          string    `json:"outcome,omitempty"`
	NotifiedRunnerID string    `json:"notified_runner_id,omitempty"`
	QueueSize        int       `json:"queue_size,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// CreateTask handles POST /api/v1/tasks.
func (h *REST) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("dispatch").Start(r.Context(), "dispatch.create_task")
	defer span.End()

	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.RequesterID) == "" {
		writeError(w, http.StatusBadRequest, "field 'requester_id' is required")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "field 'title' is required")
		return
	}
	kind := domain.Kind(req.Kind)
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "field 'kind' must be 'errand' or 'commission'")
		return
	}

	allowed, err := h.limiter.Allow(ctx, req.RequesterID)
	if err != nil {
		// Redis trouble must not block task creation.
		h.logger.Error("rate limiter unavailable", slog.String("error", err.Error()))
	} else if !allowed {
		telemetry.APIRateLimitedTotal.Inc()
		rlErr := &domain.RateLimitExceededError{RequesterID: req.RequesterID, Limit: h.limiter.Limit()}
		writeError(w, http.StatusTooManyRequests, rlErr.Error())
		return
	}

	taskID := uuid.New().String()
	now := time.Now().UTC()

	span.SetAttributes(
		attribute.String("task.id", taskID),
		attribute.String("task.kind", string(kind)),
	)

	task := &domain.Task{
		ID:           taskID,
		RequesterID:  req.RequesterID,
		Kind:         kind,
		Title:        strings.TrimSpace(req.Title),
		Categories:   domain.ParseCategories(req.Categories),
		Status:       domain.StatusPending,
		RequesterLat: req.Lat,
		RequesterLon: req.Lon,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.tasks.Create(ctx, task); err != nil {
		h.logger.Error("task create failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	telemetry.APITasksCreated.WithLabelValues(string(kind)).Inc()

	resp := CreateTaskResponse{
		TaskID:    taskID,
		Status:    string(domain.StatusPending),
		CreatedAt: now,
	}

	// Dispatch inline. A failure here leaves the row pending; the internal
	// assign endpoint can re-trigger it.
	result, err := h.dispatcher.Assign(ctx, taskID)
	if err != nil {
		h.logger.Error("inline assignment failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	} else {
		resp.Outcome = string(result.Outcome)
		resp.NotifiedRunnerID = result.NotifiedRunnerID
		resp.QueueSize = result.QueueSize
		if result.Outcome.Cancels() {
			resp.Status = string(domain.StatusCancelled)
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}

// AssignTask handles POST /internal/v1/tasks/{id}/assign: the explicit
// assignment trigger, also used to retry a task whose inline dispatch failed.
func (h *REST) AssignTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	result, err := h.dispatcher.Assign(r.Context(), taskID)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		var badState *domain.InvalidTaskStateError
		switch {
		case errors.As(err, &notFound):
			writeError(w, http.StatusNotFound, "task not found")
		case errors.As(err, &badState):
			writeError(w, http.StatusConflict, badState.Error())
		default:
			h.logger.Error("assignment failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "assignment failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// TriggerSweep handles POST /internal/v1/sweep: runs one reassignment batch
// on demand, outside the recurring schedule.
func (h *REST) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reassigner.Sweep(r.Context())
	if err != nil {
		h.logger.Error("sweep failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *REST) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	task, err := h.tasks.GetByID(r.Context(), taskID)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("task fetch failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve task")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Readyz handles GET /readyz — checks database connectivity.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "postgres not ready")
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
