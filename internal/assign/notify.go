package assign

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/campusrun/dispatch/internal/domain"
	"github.com/campusrun/dispatch/internal/kafka"
	redisstore "github.com/campusrun/dispatch/internal/redis"
	"github.com/campusrun/dispatch/pkg/retry"
	"github.com/campusrun/dispatch/pkg/telemetry"
)

// OfferTTL is how long a notified runner has to respond before the
// reassignment sweep advances past them.
const OfferTTL = 60 * time.Second

// notifier owns the delivery side shared by the initial assignment and the
// reassignment sweep: a pub/sub push to the affected user plus a lifecycle
// event on the Kafka stream. Both are best-effort; the task row is the
// source of truth and a lost push is recovered by the next sweep.
type notifier struct {
	sink   redisstore.Sink
	events kafka.Producer // nil = event stream disabled
	logger *slog.Logger
}

// offerToRunner pushes the offer to the runner's private channel and records
// the lifecycle event.
func (n *notifier) offerToRunner(ctx context.Context, task *domain.Task, runnerID string, queueIndex int, notifiedAt, expiresAt time.Time, evType domain.EventType) {
	payload := domain.Notification{
		TaskID:      task.ID,
		Title:       task.Title,
		Categories:  task.Categories,
		RequesterID: task.RequesterID,
		AssignedAt:  notifiedAt,
		ExpiresAt:   expiresAt,
	}

	err := retry.Do(ctx, retry.Config{MaxAttempts: 2, BaseDelay: 100 * time.Millisecond}, func() error {
		return n.sink.Send(ctx, redisstore.RunnerChannel(runnerID), "task_offer", payload)
	})
	if err != nil {
		// Non-fatal: the row update already won; the sweep re-offers if the
		// runner never sees this push.
		telemetry.BroadcastFailuresTotal.Inc()
		n.logger.Error("offer broadcast failed",
			slog.String("task_id", task.ID),
			slog.String("runner_id", runnerID),
			slog.String("error", err.Error()),
		)
	}

	n.publishEvent(ctx, &domain.Event{
		ID:          uuid.New().String(),
		Type:        evType,
		TaskID:      task.ID,
		TaskKind:    task.Kind,
		RequesterID: task.RequesterID,
		RunnerID:    runnerID,
		QueueIndex:  queueIndex,
		OccurredAt:  notifiedAt,
	})
}

// cancelToRequester tells the requester their task was terminated and why.
func (n *notifier) cancelToRequester(ctx context.Context, task *domain.Task, queueIndex int, now time.Time) {
	payload := map[string]string{
		"task_id": task.ID,
		"reason":  domain.CancelReasonNoRunners,
	}
	err := retry.Do(ctx, retry.Config{MaxAttempts: 2, BaseDelay: 100 * time.Millisecond}, func() error {
		return n.sink.Send(ctx, redisstore.RequesterChannel(task.RequesterID), "task_cancelled", payload)
	})
	if err != nil {
		// Non-fatal like the offer push: the requester sees the cancelled
		// status on their next task read.
		telemetry.BroadcastFailuresTotal.Inc()
		n.logger.Error("cancel broadcast failed",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
	}

	n.publishEvent(ctx, &domain.Event{
		ID:          uuid.New().String(),
		Type:        domain.EventTaskCancelled,
		TaskID:      task.ID,
		TaskKind:    task.Kind,
		RequesterID: task.RequesterID,
		QueueIndex:  queueIndex,
		Reason:      domain.CancelReasonNoRunners,
		OccurredAt:  now,
	})
}

func (n *notifier) publishEvent(ctx context.Context, ev *domain.Event) {
	if n.events == nil {
		return
	}
	if err := n.events.PublishEvent(ctx, ev); err != nil {
		n.logger.Error("event publish failed",
			slog.String("task_id", ev.TaskID),
			slog.String("event_type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}
