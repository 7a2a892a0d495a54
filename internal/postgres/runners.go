package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusrun/dispatch/internal/domain"
)

// RunnerStore abstracts database access for the runner pool.
type RunnerStore interface {
	// ListAvailable returns the raw pool of runners currently flagged
	// available. Presence, coordinate, and exclusion filtering happens in
	// the eligibility filter, not in SQL, so the rules stay testable.
	ListAvailable(ctx context.Context) ([]domain.Runner, error)
	GetByID(ctx context.Context, id string) (*domain.Runner, error)
}

type runnerStore struct {
	pool *pgxpool.Pool
}

// NewRunnerStore wraps a pgxpool with the RunnerStore interface.
func NewRunnerStore(pool *pgxpool.Pool) RunnerStore {
	return &runnerStore{pool: pool}
}

const runnerColumns = `id, latitude, longitude, last_seen_at, location_updated_at,
	is_available, average_rating`

func (s *runnerStore) ListAvailable(ctx context.Context) ([]domain.Runner, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runnerColumns+`
		FROM runners
		WHERE is_available = TRUE
	`)
	if err != nil {
		return nil, fmt.Errorf("list available runners: %w", err)
	}
	defer rows.Close()

	var runners []domain.Runner
	for rows.Next() {
		var r domain.Runner
		if err := rows.Scan(
			&r.ID, &r.Latitude, &r.Longitude, &r.LastSeenAt, &r.LocationUpdatedAt,
			&r.IsAvailable, &r.AverageRating,
		); err != nil {
			return nil, fmt.Errorf("scan runner: %w", err)
		}
		runners = append(runners, r)
	}
	return runners, rows.Err()
}

func (s *runnerStore) GetByID(ctx context.Context, id string) (*domain.Runner, error) {
	var r domain.Runner
	err := s.pool.QueryRow(ctx, `
		SELECT `+runnerColumns+`
		FROM runners
		WHERE id = $1
	`, id).Scan(
		&r.ID, &r.Latitude, &r.Longitude, &r.LastSeenAt, &r.LocationUpdatedAt,
		&r.IsAvailable, &r.AverageRating,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.RunnerNotFoundError{RunnerID: id}
		}
		return nil, fmt.Errorf("get runner %s: %w", id, err)
	}
	return &r, nil
}
