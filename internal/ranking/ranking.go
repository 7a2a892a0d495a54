// Package ranking orders eligible runners for a task by a weighted blend of
// proximity, rating, and category affinity.
package ranking

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/campusrun/dispatch/internal/affinity"
	"github.com/campusrun/dispatch/internal/domain"
	"github.com/campusrun/dispatch/internal/geo"
)

// HardCutoffMeters is the maximum distance at which a runner is eligible.
const HardCutoffMeters = 500.0

// Scoring weights. Distance dominates because campus errands are
// time-sensitive; affinity is the weakest signal.
const (
	weightDistance = 0.40
	weightRating   = 0.35
	weightAffinity = 0.25

	maxRating = 5.0
)

// HistoryFetcher returns a runner's completed-task category history: one
// count per category plus the total number of completed tasks.
type HistoryFetcher interface {
	CompletedCategories(ctx context.Context, runnerID string, kind domain.Kind) ([]domain.CategoryCount, int, error)
}

// Candidate is one scored runner in a produced queue.
type Candidate struct {
	Runner         domain.Runner
	DistanceMeters float64
	DistanceScore  float64
	RatingScore    float64
	AffinityScore  float64
	FinalScore     float64
}

// Engine ranks eligible runners for a task. It holds no state beyond the
// injected history fetch, so equal inputs always produce equal orderings.
type Engine struct {
	history HistoryFetcher
}

// NewEngine returns a ranking engine backed by the given history source.
func NewEngine(history HistoryFetcher) *Engine {
	return &Engine{history: history}
}

// Rank scores every eligible runner and returns them ordered best-first.
// Callers must have already applied Filter; runners beyond the hard cutoff
// simply score zero on distance here.
func (e *Engine) Rank(ctx context.Context, task *domain.Task, reqLat, reqLon float64, eligible []domain.Runner) ([]Candidate, error) {
	candidates := make([]Candidate, 0, len(eligible))
	for _, r := range eligible {
		c, err := e.score(ctx, task, reqLat, reqLon, r)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].FinalScore != candidates[j].FinalScore {
			return candidates[i].FinalScore > candidates[j].FinalScore
		}
		if candidates[i].DistanceMeters != candidates[j].DistanceMeters {
			return candidates[i].DistanceMeters < candidates[j].DistanceMeters
		}
		return candidates[i].Runner.ID < candidates[j].Runner.ID
	})
	return candidates, nil
}

func (e *Engine) score(ctx context.Context, task *domain.Task, reqLat, reqLon float64, r domain.Runner) (Candidate, error) {
	d := geo.DistanceMeters(reqLat, reqLon, *r.Latitude, *r.Longitude)

	distanceScore := math.Max(0, 1-d/HardCutoffMeters)

	ratingScore := r.AverageRating / maxRating
	if ratingScore < 0 || math.IsNaN(ratingScore) {
		ratingScore = 0
	} else if ratingScore > 1 {
		ratingScore = 1
	}

	var affinityScore float64
	if len(task.Categories) > 0 {
		history, total, err := e.history.CompletedCategories(ctx, r.ID, task.Kind)
		if err != nil {
			return Candidate{}, fmt.Errorf("history for runner %s: %w", r.ID, err)
		}
		affinityScore = affinity.Score(task.Categories, history, total)
	}

	return Candidate{
		Runner:         r,
		DistanceMeters: d,
		DistanceScore:  distanceScore,
		RatingScore:    ratingScore,
		AffinityScore:  affinityScore,
		FinalScore:     weightDistance*distanceScore + weightRating*ratingScore + weightAffinity*affinityScore,
	}, nil
}

// IDs extracts the runner IDs from a ranked candidate list, preserving order.
func IDs(candidates []Candidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.Runner.ID
	}
	return ids
}
