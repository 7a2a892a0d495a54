// Package kafka carries the dispatch lifecycle stream: one event per offer,
// reassignment, or cancellation, keyed by task ID for per-task ordering.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/campusrun/dispatch/internal/domain"
)

// TopicEvents is the lifecycle stream topic consumed by the notifier.
const TopicEvents = "dispatch.events"

// Producer publishes lifecycle events.
type Producer interface {
	PublishEvent(ctx context.Context, ev *domain.Event) error
	Close() error
}

type producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Kafka producer connected to the given brokers.
func NewProducer(brokers []string) Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        TopicEvents,
		Balancer:     &kafka.Hash{}, // route by key → deterministic partition
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		// Auto-create topics if they don't exist
		AllowAutoTopicCreation: true,
	}
	return &producer{writer: w}
}

// PublishEvent writes the event keyed by task ID so all events for one task
// land on the same partition in order.
func (p *producer) PublishEvent(ctx context.Context, ev *domain.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}

	// Inject the active trace context into message headers so downstream
	// consumers can extract and continue the trace.
	headers := make(HeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(ev.TaskID),
		Value:   value,
		Headers: []kafka.Header(headers),
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka publish event %s: %w", ev.ID, err)
	}
	return nil
}

func (p *producer) Close() error {
	return p.writer.Close()
}
