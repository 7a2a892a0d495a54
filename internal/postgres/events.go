package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusrun/dispatch/internal/domain"
)

// EventStore persists lifecycle events into the task_events audit table.
type EventStore interface {
	// Record inserts the event; re-delivered events are deduplicated on the
	// event ID so the notifier stays idempotent under at-least-once Kafka
	// delivery.
	Record(ctx context.Context, ev *domain.Event) (bool, error)
}

type eventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore wraps a pgxpool with the EventStore interface.
func NewEventStore(pool *pgxpool.Pool) EventStore {
	return &eventStore{pool: pool}
}

func (s *eventStore) Record(ctx context.Context, ev *domain.Event) (bool, error) {
	var runnerID *string
	if ev.RunnerID != "" {
		runnerID = &ev.RunnerID
	}
	var reason *string
	if ev.Reason != "" {
		reason = &ev.Reason
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO task_events
			(id, type, task_id, task_kind, requester_id, runner_id, queue_index, reason, occurred_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`,
		ev.ID, string(ev.Type), ev.TaskID, string(ev.TaskKind),
		ev.RequesterID, runnerID, ev.QueueIndex, reason, ev.OccurredAt,
	)
	if err != nil {
		return false, fmt.Errorf("record event %s: %w", ev.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}
