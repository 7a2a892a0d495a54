package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusrun/dispatch/internal/assign"
	"github.com/campusrun/dispatch/internal/domain"
)

// ─── mocks ──────────────────────────────────────────────────────────────────

type stubTaskStore struct {
	created []*domain.Task
	task    *domain.Task
	getErr  error
}

func (s *stubTaskStore) Create(_ context.Context, task *domain.Task) error {
	s.created = append(s.created, task)
	return nil
}

func (s *stubTaskStore) GetByID(_ context.Context, id string) (*domain.Task, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.task == nil || s.task.ID != id {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	return s.task, nil
}

func (s *stubTaskStore) ClaimAssignment(context.Context, string, []string, string, time.Time, time.Time) (bool, error) {
	return false, nil
}

func (s *stubTaskStore) CancelUnassigned(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

func (s *stubTaskStore) ListExpiredOffers(context.Context, time.Time, int) ([]*domain.Task, error) {
	return nil, nil
}

func (s *stubTaskStore) AdvanceOffer(context.Context, string, string, string, int, []string, time.Time, time.Time) (bool, error) {
	return false, nil
}

func (s *stubTaskStore) CancelExhausted(context.Context, string, string, int, []string, time.Time) (bool, error) {
	return false, nil
}

func (s *stubTaskStore) RetargetOffer(context.Context, string, string, string, []string, time.Time, time.Time) (bool, error) {
	return false, nil
}

type stubAssigner struct {
	result assign.Result
	err    error
	taskID string
}

func (s *stubAssigner) Assign(_ context.Context, taskID string) (assign.Result, error) {
	s.taskID = taskID
	if s.err != nil {
		return assign.Result{TaskID: taskID}, s.err
	}
	res := s.result
	res.TaskID = taskID
	return res, nil
}

type stubSweeper struct {
	summary assign.Summary
	err     error
}

func (s *stubSweeper) Sweep(context.Context) (assign.Summary, error) {
	return s.summary, s.err
}

type stubLimiter struct {
	allowed bool
	err     error
}

func (s *stubLimiter) Allow(context.Context, string) (bool, error) { return s.allowed, s.err }
func (s *stubLimiter) Limit() int                                  { return 10 }

// ─── helpers ────────────────────────────────────────────────────────────────

func newRouter(h *REST) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/tasks", h.CreateTask)
	r.Get("/api/v1/tasks/{id}", h.GetTask)
	r.Post("/internal/v1/tasks/{id}/assign", h.AssignTask)
	r.Post("/internal/v1/sweep", h.TriggerSweep)
	return r
}

func newHandler(store *stubTaskStore, assigner *stubAssigner, sweeper *stubSweeper, limiter *stubLimiter) *REST {
	return NewREST(store, assigner, sweeper, limiter, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const validCreateBody = `{
	"requester_id": "req-1",
	"kind": "errand",
	"title": "grab a bento box",
	"categories": "Food, Delivery",
	"lat": 25.0330,
	"lon": 121.5654
}`

// ─── tests ──────────────────────────────────────────────────────────────────

func TestCreateTaskAssignsInline(t *testing.T) {
	store := &stubTaskStore{}
	assigner := &stubAssigner{result: assign.Result{
		Outcome:          domain.OutcomeAssigned,
		NotifiedRunnerID: "runner-a",
		QueueSize:        3,
	}}
	router := newRouter(newHandler(store, assigner, &stubSweeper{}, &stubLimiter{allowed: true}))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks", validCreateBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, string(domain.StatusPending), resp.Status)
	assert.Equal(t, string(domain.OutcomeAssigned), resp.Outcome)
	assert.Equal(t, "runner-a", resp.NotifiedRunnerID)
	assert.Equal(t, 3, resp.QueueSize)

	require.Len(t, store.created, 1)
	created := store.created[0]
	assert.Equal(t, domain.KindErrand, created.Kind)
	assert.Equal(t, []string{"food", "delivery"}, created.Categories)
	require.NotNil(t, created.RequesterLat)
	assert.InDelta(t, 25.0330, *created.RequesterLat, 1e-9)
	assert.Equal(t, created.ID, assigner.taskID)
}

func TestCreateTaskReportsCancellation(t *testing.T) {
	assigner := &stubAssigner{result: assign.Result{Outcome: domain.OutcomeNoRunnersWithinDistance}}
	router := newRouter(newHandler(&stubTaskStore{}, assigner, &stubSweeper{}, &stubLimiter{allowed: true}))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks", validCreateBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(domain.StatusCancelled), resp.Status)
	assert.Equal(t, string(domain.OutcomeNoRunnersWithinDistance), resp.Outcome)
}

func TestCreateTaskValidation(t *testing.T) {
	router := newRouter(newHandler(&stubTaskStore{}, &stubAssigner{}, &stubSweeper{}, &stubLimiter{allowed: true}))

	cases := map[string]string{
		"missing requester": `{"kind":"errand","title":"x"}`,
		"missing title":     `{"requester_id":"req-1","kind":"errand"}`,
		"bad kind":          `{"requester_id":"req-1","kind":"teleport","title":"x"}`,
		"garbage body":      `{nope`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateTaskRateLimited(t *testing.T) {
	store := &stubTaskStore{}
	router := newRouter(newHandler(store, &stubAssigner{}, &stubSweeper{}, &stubLimiter{allowed: false}))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks", validCreateBody)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, store.created)
}

func TestCreateTaskSurvivesLimiterOutage(t *testing.T) {
	store := &stubTaskStore{}
	limiter := &stubLimiter{err: assert.AnError}
	assigner := &stubAssigner{result: assign.Result{Outcome: domain.OutcomeAssigned}}
	router := newRouter(newHandler(store, assigner, &stubSweeper{}, limiter))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks", validCreateBody)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, store.created, 1)
}

func TestCreateTaskSucceedsWhenInlineAssignFails(t *testing.T) {
	store := &stubTaskStore{}
	assigner := &stubAssigner{err: assert.AnError}
	router := newRouter(newHandler(store, assigner, &stubSweeper{}, &stubLimiter{allowed: true}))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks", validCreateBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Outcome, "the row stays pending for a later retry")
	assert.Equal(t, string(domain.StatusPending), resp.Status)
}

func TestAssignTaskEndpoint(t *testing.T) {
	assigner := &stubAssigner{result: assign.Result{
		Outcome:          domain.OutcomeAssigned,
		NotifiedRunnerID: "runner-a",
		QueueSize:        1,
	}}
	router := newRouter(newHandler(&stubTaskStore{}, assigner, &stubSweeper{}, &stubLimiter{allowed: true}))

	rec := doJSON(t, router, http.MethodPost, "/internal/v1/tasks/t-1/assign", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res assign.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "t-1", res.TaskID)
	assert.Equal(t, domain.OutcomeAssigned, res.Outcome)
}

func TestAssignTaskNotFound(t *testing.T) {
	assigner := &stubAssigner{err: &domain.TaskNotFoundError{TaskID: "t-1"}}
	router := newRouter(newHandler(&stubTaskStore{}, assigner, &stubSweeper{}, &stubLimiter{allowed: true}))

	rec := doJSON(t, router, http.MethodPost, "/internal/v1/tasks/t-1/assign", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssignTaskConflict(t *testing.T) {
	assigner := &stubAssigner{err: &domain.InvalidTaskStateError{
		TaskID: "t-1",
		Status: domain.StatusCompleted,
		Detail: "assignment triggered on a non-pending task",
	}}
	router := newRouter(newHandler(&stubTaskStore{}, assigner, &stubSweeper{}, &stubLimiter{allowed: true}))

	rec := doJSON(t, router, http.MethodPost, "/internal/v1/tasks/t-1/assign", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerSweepEndpoint(t *testing.T) {
	sweeper := &stubSweeper{summary: assign.Summary{Processed: 4, Reassigned: 2, Cancelled: 1, Skipped: 1}}
	router := newRouter(newHandler(&stubTaskStore{}, &stubAssigner{}, sweeper, &stubLimiter{allowed: true}))

	rec := doJSON(t, router, http.MethodPost, "/internal/v1/sweep", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary assign.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 2, summary.Reassigned)
}

func TestGetTaskEndpoint(t *testing.T) {
	store := &stubTaskStore{task: &domain.Task{
		ID:          "t-1",
		RequesterID: "req-1",
		Kind:        domain.KindCommission,
		Title:       "sketch commission",
		Status:      domain.StatusPending,
	}}
	router := newRouter(newHandler(store, &stubAssigner{}, &stubSweeper{}, &stubLimiter{allowed: true}))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/tasks/t-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var task domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, "t-1", task.ID)
	assert.Equal(t, domain.KindCommission, task.Kind)
}

func TestGetTaskNotFound(t *testing.T) {
	router := newRouter(newHandler(&stubTaskStore{}, &stubAssigner{}, &stubSweeper{}, &stubLimiter{allowed: true}))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/tasks/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
