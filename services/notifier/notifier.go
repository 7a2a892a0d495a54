// Package notifier tails the dispatch lifecycle stream and persists every
// event into the task_events audit table.
package notifier

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/campusrun/dispatch/internal/domain"
	"github.com/campusrun/dispatch/internal/kafka"
	"github.com/campusrun/dispatch/internal/postgres"
	"github.com/campusrun/dispatch/pkg/telemetry"
)

const (
	resultRecorded  = "recorded"
	resultDuplicate = "duplicate"
	resultMalformed = "malformed"
)

// Notifier consumes lifecycle events and records them for audit queries.
type Notifier struct {
	events postgres.EventStore
	logger *slog.Logger
}

func New(events postgres.EventStore, logger *slog.Logger) *Notifier {
	return &Notifier{events: events, logger: logger}
}

// HandleMessage processes a single Kafka message. Malformed payloads are
// acknowledged and dropped: redelivery cannot fix them. Store failures are
// returned so the offset stays uncommitted and Kafka redelivers.
func (n *Notifier) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var ev domain.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		telemetry.NotifierEventsTotal.WithLabelValues("unknown", resultMalformed).Inc()
		n.logger.Warn("malformed event dropped",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if ev.ID == "" || ev.TaskID == "" || !ev.Type.Valid() {
		telemetry.NotifierEventsTotal.WithLabelValues(string(ev.Type), resultMalformed).Inc()
		n.logger.Warn("incomplete event dropped",
			slog.String("event_id", ev.ID),
			slog.String("task_id", ev.TaskID),
		)
		return nil
	}

	inserted, err := n.events.Record(ctx, &ev)
	if err != nil {
		return err
	}

	result := resultRecorded
	if !inserted {
		// Redelivery after a commit failure; the row already exists.
		result = resultDuplicate
	}
	telemetry.NotifierEventsTotal.WithLabelValues(string(ev.Type), result).Inc()

	n.logger.Debug("event recorded",
		slog.String("event_id", ev.ID),
		slog.String("task_id", ev.TaskID),
		slog.String("type", string(ev.Type)),
		slog.String("result", result),
	)
	return nil
}
