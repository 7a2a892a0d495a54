package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// Message is the slice of a Kafka record the notifier cares about.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Offset  int64
	Headers []kafka.Header
}

// HandlerFunc handles one message. A nil return commits the offset; an
// error leaves it uncommitted so the message is delivered again.
type HandlerFunc func(ctx context.Context, msg Message) error

// Consumer reads messages from the lifecycle stream.
type Consumer interface {
	Subscribe(ctx context.Context, handler HandlerFunc) error
	Close() error
}

type consumer struct {
	reader *kafka.Reader
	logger *slog.Logger
}

// NewConsumer creates a group consumer over the given topic. Offsets are
// committed manually so delivery is at-least-once.
func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger) Consumer {
	return &consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6, // 10 MB
			MaxWait:        500 * time.Millisecond,
			CommitInterval: 0, // commit explicitly, never on a timer
			StartOffset:    kafka.FirstOffset,
		}),
		logger: logger,
	}
}

// Subscribe fetches and handles messages until ctx is cancelled.
func (c *consumer) Subscribe(ctx context.Context, handler HandlerFunc) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}
		c.dispatch(ctx, handler, m)
	}
}

// dispatch runs the handler under the producer's trace context and commits
// the offset only when the handler accepted the message.
func (c *consumer) dispatch(ctx context.Context, handler HandlerFunc, m kafka.Message) {
	carrier := HeaderCarrier(m.Headers)
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, &carrier)

	err := handler(msgCtx, Message{
		Topic:   m.Topic,
		Key:     m.Key,
		Value:   m.Value,
		Offset:  m.Offset,
		Headers: m.Headers,
	})
	if err != nil {
		// Uncommitted on purpose: the broker re-delivers after restart or
		// rebalance, which is the retry path for store failures.
		c.logger.Error("message handler failed, offset not committed",
			slog.String("topic", m.Topic),
			slog.Int64("offset", m.Offset),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.logger.Error("failed to commit kafka offset",
			slog.String("topic", m.Topic),
			slog.Int64("offset", m.Offset),
			slog.String("error", err.Error()),
		)
	}
}

func (c *consumer) Close() error {
	return c.reader.Close()
}
