// Package assign implements the task-dispatch engine: the initial assignment
// of a newly posted task to the best-ranked runner, and the recurring
// reassignment sweep that advances expired offers.
//
// The engine holds no state between calls. All coordination with the
// concurrent accept/decline flow happens through conditional row updates; an
// update that affects zero rows means another actor won the transition and
// is never treated as an error.
package assign

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/campusrun/dispatch/internal/domain"
	"github.com/campusrun/dispatch/internal/kafka"
	"github.com/campusrun/dispatch/internal/postgres"
	"github.com/campusrun/dispatch/internal/ranking"
	redisstore "github.com/campusrun/dispatch/internal/redis"
	"github.com/campusrun/dispatch/pkg/telemetry"
)

// Result reports the outcome of one assignment attempt.
type Result struct {
	TaskID           string         `json:"task_id"`
	Outcome          domain.Outcome `json:"outcome"`
	NotifiedRunnerID string         `json:"notified_runner_id,omitempty"`
	QueueSize        int            `json:"queue_size,omitempty"`
}

// Dispatcher computes and persists the candidate queue for a pending task and
// notifies the head candidate.
type Dispatcher struct {
	tasks    postgres.TaskStore
	runners  postgres.RunnerStore
	ranker   *ranking.Engine
	notify   *notifier
	logger   *slog.Logger
	offerTTL time.Duration
	now      func() time.Time
}

// NewDispatcher constructs a Dispatcher with the given collaborators.
// events may be nil to disable the lifecycle stream.
func NewDispatcher(
	tasks postgres.TaskStore,
	runners postgres.RunnerStore,
	ranker *ranking.Engine,
	sink redisstore.Sink,
	events kafka.Producer,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		tasks:    tasks,
		runners:  runners,
		ranker:   ranker,
		notify:   &notifier{sink: sink, events: events, logger: logger},
		logger:   logger,
		offerTTL: OfferTTL,
		now:      time.Now,
	}
}

// Assign claims the assignment slot for the task: it filters and ranks the
// runner pool, persists the queue with the first offer in one conditional
// update, and notifies the winning runner.
//
// Eligibility exhaustion cancels the task immediately and reports the
// specific empty-reason — the caller's app shows feedback instead of an
// unexplained hang. Store failures are returned as errors; every defined
// Outcome is a non-error answer.
func (d *Dispatcher) Assign(ctx context.Context, taskID string) (Result, error) {
	ctx, span := otel.Tracer("assign").Start(ctx, "assign.initial")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", taskID))

	task, err := d.tasks.GetByID(ctx, taskID)
	if err != nil {
		return Result{TaskID: taskID}, err
	}

	log := d.logger.With(
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Kind)),
	)

	// Idempotent no-op: a duplicate trigger or a concurrent winner.
	if task.NotifiedRunnerID != nil || task.RunnerID != nil {
		return d.outcome(task, domain.OutcomeAlreadyAssigned, "", 0), nil
	}
	if task.Status != domain.StatusPending {
		return d.outcome(task, domain.OutcomeAssignmentFailed, "", 0),
			&domain.InvalidTaskStateError{TaskID: task.ID, Status: task.Status, Detail: "assignment triggered on a non-pending task"}
	}

	now := d.now().UTC()

	// No usable requester location means no distance axis to rank on.
	if !task.HasRequesterLocation() {
		log.Warn("requester location missing, cancelling")
		return d.cancel(ctx, task, domain.OutcomeNoRunnersWithinDistance, now)
	}

	pool, err := d.runners.ListAvailable(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "runner pool fetch failed")
		return Result{TaskID: task.ID}, err
	}

	filtered := ranking.Filter(pool, task, *task.RequesterLat, *task.RequesterLon, now)
	if filtered.BeforeDistance == 0 {
		log.Info("no eligible runners, cancelling")
		return d.cancel(ctx, task, domain.OutcomeNoEligibleRunners, now)
	}
	if len(filtered.Eligible) == 0 {
		log.Info("no runners within distance, cancelling",
			slog.Int("filtered_pool", filtered.BeforeDistance))
		return d.cancel(ctx, task, domain.OutcomeNoRunnersWithinDistance, now)
	}

	candidates, err := d.ranker.Rank(ctx, task, *task.RequesterLat, *task.RequesterLon, filtered.Eligible)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ranking failed")
		return Result{TaskID: task.ID}, err
	}
	if len(candidates) == 0 {
		return d.cancel(ctx, task, domain.OutcomeNoRunnerToAssign, now)
	}

	queue := ranking.IDs(candidates)
	head := queue[0]
	expires := now.Add(d.offerTTL)

	won, err := d.tasks.ClaimAssignment(ctx, task.ID, queue, head, now, expires)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return Result{TaskID: task.ID}, err
	}
	if !won {
		return d.explainLostClaim(ctx, task.ID)
	}

	telemetry.AssignmentsTotal.WithLabelValues(string(task.Kind), string(domain.OutcomeAssigned)).Inc()
	telemetry.QueueSize.WithLabelValues(string(task.Kind)).Observe(float64(len(queue)))
	log.Info("task assigned",
		slog.String("runner_id", head),
		slog.Int("queue_size", len(queue)),
	)

	d.notify.offerToRunner(ctx, task, head, 0, now, expires, domain.EventTaskAssigned)

	return Result{
		TaskID:           task.ID,
		Outcome:          domain.OutcomeAssigned,
		NotifiedRunnerID: head,
		QueueSize:        len(queue),
	}, nil
}

// cancel terminates the task with the given empty-reason, tolerating a
// concurrent accept that slipped in since our read.
func (d *Dispatcher) cancel(ctx context.Context, task *domain.Task, outcome domain.Outcome, now time.Time) (Result, error) {
	won, err := d.tasks.CancelUnassigned(ctx, task.ID, now)
	if err != nil {
		return Result{TaskID: task.ID}, err
	}
	if !won {
		// The row changed under us; if someone claimed it, that wins.
		return d.explainLostClaim(ctx, task.ID)
	}

	telemetry.AssignmentsTotal.WithLabelValues(string(task.Kind), string(outcome)).Inc()
	d.notify.cancelToRequester(ctx, task, 0, now)
	return Result{TaskID: task.ID, Outcome: outcome}, nil
}

// explainLostClaim re-reads the row after a conditional update affected zero
// rows. A visible concurrent winner is the expected race outcome; a row that
// is still unassigned is an anomaly the protocol cannot explain.
func (d *Dispatcher) explainLostClaim(ctx context.Context, taskID string) (Result, error) {
	fresh, err := d.tasks.GetByID(ctx, taskID)
	if err != nil {
		return Result{TaskID: taskID}, err
	}
	if fresh.NotifiedRunnerID != nil || fresh.RunnerID != nil {
		return d.outcome(fresh, domain.OutcomeAlreadyAssigned, "", 0), nil
	}
	if fresh.Status != domain.StatusPending {
		// Cancelled or otherwise resolved elsewhere; nothing left to do.
		return d.outcome(fresh, domain.OutcomeAlreadyAssigned, "", 0), nil
	}
	return d.outcome(fresh, domain.OutcomeAssignmentFailed, "", 0),
		&domain.InvalidTaskStateError{
			TaskID: taskID,
			Status: fresh.Status,
			Detail: "conditional update affected no rows but the task is still unassigned",
		}
}

func (d *Dispatcher) outcome(task *domain.Task, o domain.Outcome, runnerID string, queueSize int) Result {
	telemetry.AssignmentsTotal.WithLabelValues(string(task.Kind), string(o)).Inc()
	return Result{TaskID: task.ID, Outcome: o, NotifiedRunnerID: runnerID, QueueSize: queueSize}
}
