// Package redis holds the go-redis backed collaborators: the broadcast sink,
// the request rate limiter, and sweep leader election.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunnerChannel is the private channel a runner's app subscribes to.
func RunnerChannel(runnerID string) string { return "runner:" + runnerID }

// RequesterChannel is the private channel a requester's app subscribes to.
func RequesterChannel(requesterID string) string { return "requester:" + requesterID }

// Sink delivers events to a user's private channel. Delivery is
// fire-and-forget and at-most-once; the engine treats the task row as the
// source of truth and the reassignment sweep as the safety net when a
// notification is lost.
type Sink interface {
	Send(ctx context.Context, channel, event string, payload any) error
}

type broadcaster struct {
	client *redis.Client
}

// NewBroadcaster returns a Sink that publishes over Redis pub/sub.
func NewBroadcaster(client *redis.Client) Sink {
	return &broadcaster{client: client}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

// envelope is the wire shape subscribers receive: the event name plus its
// JSON payload.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (b *broadcaster) Send(ctx context.Context, channel, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	data, err := json.Marshal(envelope{Event: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, channel, err)
	}
	return nil
}
