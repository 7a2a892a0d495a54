package domain

import "time"

// EventType identifies a lifecycle event on the dispatch stream.
type EventType string

const (
	EventTaskAssigned   EventType = "task_assigned"
	EventTaskReassigned EventType = "task_reassigned"
	EventTaskCancelled  EventType = "task_cancelled"
)

// Valid reports whether t is a known lifecycle event type.
func (t EventType) Valid() bool {
	return t == EventTaskAssigned || t == EventTaskReassigned || t == EventTaskCancelled
}

// Event is the envelope published to the dispatch.events topic and mirrored
// into the task_events audit table by the notifier.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	TaskID      string    `json:"task_id"`
	TaskKind    Kind      `json:"task_kind"`
	RequesterID string    `json:"requester_id"`
	// RunnerID is the offer target for assignment events; empty for
	// cancellations.
	RunnerID   string    `json:"runner_id,omitempty"`
	QueueIndex int       `json:"queue_index"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CancelReasonNoRunners is broadcast to the requester when the queue is
// exhausted or no eligible runner existed at creation.
const CancelReasonNoRunners = "no_runners_available"

// Notification is the payload pushed to a runner's private channel when a
// task is offered to them.
type Notification struct {
	TaskID      string    `json:"task_id"`
	Title       string    `json:"title"`
	Categories  []string  `json:"categories"`
	RequesterID string    `json:"requester_id"`
	AssignedAt  time.Time `json:"assigned_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
