package domain

import (
	"math"
	"time"
)

// Runner is a worker eligible to fulfill tasks.
type Runner struct {
	ID                string     `json:"id"`
	Latitude          *float64   `json:"latitude,omitempty"`
	Longitude         *float64   `json:"longitude,omitempty"`
	LastSeenAt        time.Time  `json:"last_seen_at"`
	LocationUpdatedAt *time.Time `json:"location_updated_at,omitempty"`
	IsAvailable       bool       `json:"is_available"`
	// AverageRating is in [0,5]; 0 means unrated.
	AverageRating float64 `json:"average_rating"`
}

// HasLocation reports whether the runner has usable coordinates.
func (r *Runner) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil &&
		!math.IsNaN(*r.Latitude) && !math.IsNaN(*r.Longitude)
}

// CategoryCount is one entry of a runner's completed-task history: how many
// completed tasks carried the category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}
