package domain

import (
	"math"
	"strings"
	"time"
)

// Kind distinguishes the two task vocabularies. Errands and commissions share
// the same row shape but keep separate category sets and completion-history
// tables.
type Kind string

const (
	KindErrand     Kind = "errand"
	KindCommission Kind = "commission"
)

// Valid reports whether k is a known task kind.
func (k Kind) Valid() bool {
	return k == KindErrand || k == KindCommission
}

// Status represents the states a task can be in.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDelivered || s == StatusCancelled
}

// Task is a posted errand or commission moving through the offer lifecycle.
//
// A pending task with a non-nil NotifiedRunnerID has an offer outstanding.
// RunnerID is written only by the accept flow; its presence is the sole
// authority that an offer was accepted, so a pending task never carries one.
type Task struct {
	ID          string `json:"id"`
	RequesterID string `json:"requester_id"`
	Kind        Kind   `json:"kind"`
	Title       string `json:"title"`
	// Categories is the requested category set, stored as lowercase tokens.
	Categories []string `json:"categories"`
	Status     Status   `json:"status"`

	// RequesterLat/RequesterLon are the requester's coordinates captured at
	// posting time; ranking is impossible without them.
	RequesterLat *float64 `json:"requester_lat,omitempty"`
	RequesterLon *float64 `json:"requester_lon,omitempty"`

	RunnerID          *string    `json:"runner_id,omitempty"`
	NotifiedRunnerID  *string    `json:"notified_runner_id,omitempty"`
	NotifiedAt        *time.Time `json:"notified_at,omitempty"`
	NotifiedExpiresAt *time.Time `json:"notified_expires_at,omitempty"`

	// RankedRunnerIDs is the candidate queue, written exactly once at
	// assignment time and never re-sorted. Reassignment only advances
	// CurrentQueueIndex.
	RankedRunnerIDs   []string `json:"ranked_runner_ids,omitempty"`
	CurrentQueueIndex int      `json:"current_queue_index"`

	// TimeoutRunnerIDs is an append-only audit set of candidates whose offers
	// expired. The legacy non-queue path also uses it as an exclusion list.
	TimeoutRunnerIDs []string `json:"timeout_runner_ids,omitempty"`

	// DeclinedRunnerID is set when a commission requester rejects an accepted
	// runner, forcing a full re-rank outside the timeout path.
	DeclinedRunnerID *string `json:"declined_runner_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasRequesterLocation reports whether the task carries usable requester
// coordinates.
func (t *Task) HasRequesterLocation() bool {
	return t.RequesterLat != nil && t.RequesterLon != nil &&
		!math.IsNaN(*t.RequesterLat) && !math.IsNaN(*t.RequesterLon)
}

// HasQueue reports whether the task carries a precomputed candidate queue.
// Rows that predate queue storage fall back to the legacy re-rank path.
func (t *Task) HasQueue() bool { return len(t.RankedRunnerIDs) > 0 }

// OfferOutstanding reports whether an offer is currently awaiting a response.
func (t *Task) OfferOutstanding() bool {
	return t.Status == StatusPending && t.RunnerID == nil && t.NotifiedRunnerID != nil
}

// ParseCategories splits a comma-separated category list into lowercase
// tokens, dropping empties. The mobile client sends categories as one string.
func ParseCategories(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		tok := strings.ToLower(strings.TrimSpace(p))
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
