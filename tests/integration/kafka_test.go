//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusrun/dispatch/internal/domain"
	"github.com/campusrun/dispatch/internal/kafka"
)

func TestKafka_EventRoundTrip(t *testing.T) {
	createTopic(t, kafka.TopicEvents)

	producer := kafka.NewProducer(testKafkaBrokers)
	t.Cleanup(func() { producer.Close() }) //nolint:errcheck

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	consumer := kafka.NewConsumer(testKafkaBrokers, kafka.TopicEvents, "integration-test", logger)
	t.Cleanup(func() { consumer.Close() }) //nolint:errcheck

	sent := &domain.Event{
		ID:          uuid.New().String(),
		Type:        domain.EventTaskAssigned,
		TaskID:      uuid.New().String(),
		TaskKind:    domain.KindErrand,
		RequesterID: "req-1",
		RunnerID:    "runner-a",
		OccurredAt:  time.Now().UTC().Truncate(time.Millisecond),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	require.NoError(t, producer.PublishEvent(ctx, sent))

	received := make(chan domain.Event, 1)
	go func() {
		_ = consumer.Subscribe(ctx, func(_ context.Context, msg kafka.Message) error {
			var ev domain.Event
			if err := json.Unmarshal(msg.Value, &ev); err != nil {
				return err
			}
			received <- ev
			cancel()
			return nil
		})
	}()

	select {
	case ev := <-received:
		assert.Equal(t, sent.ID, ev.ID)
		assert.Equal(t, sent.TaskID, ev.TaskID)
		assert.Equal(t, domain.EventTaskAssigned, ev.Type)
		assert.Equal(t, "runner-a", ev.RunnerID)
	case <-ctx.Done():
		t.Fatal("event was not consumed before the deadline")
	}
}
