package ranking

import (
	"math"
	"time"

	"github.com/campusrun/dispatch/internal/domain"
	"github.com/campusrun/dispatch/internal/geo"
)

// CommissionPresenceWindow is the maximum staleness of a runner's last_seen_at
// for commission eligibility. Errands carry no presence filter — the
// asymmetry is intentional product behavior, confirmed as-is, not a bug.
const CommissionPresenceWindow = 75 * time.Second

// FilterResult is the output of the eligibility filter.
type FilterResult struct {
	// Eligible are the runners that passed every filter including the hard
	// distance cutoff, ready for ranking.
	Eligible []domain.Runner
	// BeforeDistance counts runners that passed the availability, presence,
	// coordinate, and exclusion filters. When it is positive but Eligible is
	// empty, every surviving runner was out of range.
	BeforeDistance int
}

// Filter narrows the raw runner pool to the candidates eligible for the task.
//
// Runners failing only the distance cutoff are excluded from ranking but are
// not recorded in the task's timeout set.
func Filter(pool []domain.Runner, task *domain.Task, reqLat, reqLon float64, now time.Time) FilterResult {
	excluded := exclusionSet(task)

	var res FilterResult
	for _, r := range pool {
		if !r.IsAvailable {
			continue
		}
		if task.Kind == domain.KindCommission && now.Sub(r.LastSeenAt) > CommissionPresenceWindow {
			continue
		}
		if !r.HasLocation() {
			continue
		}
		if _, ok := excluded[r.ID]; ok {
			continue
		}
		res.BeforeDistance++

		d := geo.DistanceMeters(reqLat, reqLon, *r.Latitude, *r.Longitude)
		if math.IsNaN(d) || d > HardCutoffMeters {
			continue
		}
		res.Eligible = append(res.Eligible, r)
	}
	return res
}

// exclusionSet collects runner IDs the task must never be offered to again:
// timed-out candidates and, for commissions, a requester-declined runner.
func exclusionSet(task *domain.Task) map[string]struct{} {
	set := make(map[string]struct{}, len(task.TimeoutRunnerIDs)+1)
	for _, id := range task.TimeoutRunnerIDs {
		set[id] = struct{}{}
	}
	if task.Kind == domain.KindCommission && task.DeclinedRunnerID != nil {
		set[*task.DeclinedRunnerID] = struct{}{}
	}
	return set
}
