package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusrun/dispatch/internal/domain"
)

// HistoryStore reads a runner's completed-task category history, per task
// kind. It satisfies ranking.HistoryFetcher.
type HistoryStore interface {
	CompletedCategories(ctx context.Context, runnerID string, kind domain.Kind) ([]domain.CategoryCount, int, error)
}

type historyStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore wraps a pgxpool with the HistoryStore interface.
func NewHistoryStore(pool *pgxpool.Pool) HistoryStore {
	return &historyStore{pool: pool}
}

// CompletedCategories returns how many of the runner's completed tasks of the
// given kind carried each category, plus the total completed count. Errand
// and commission histories never mix.
func (s *historyStore) CompletedCategories(ctx context.Context, runnerID string, kind domain.Kind) ([]domain.CategoryCount, int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category, COUNT(*)
		FROM tasks, unnest(categories) AS category
		WHERE runner_id = $1
		  AND kind = $2
		  AND status IN ('completed', 'delivered')
		GROUP BY category
	`, runnerID, string(kind))
	if err != nil {
		return nil, 0, fmt.Errorf("completed categories for runner %s: %w", runnerID, err)
	}
	defer rows.Close()

	var history []domain.CategoryCount
	for rows.Next() {
		var cc domain.CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Count); err != nil {
			return nil, 0, fmt.Errorf("scan category count: %w", err)
		}
		history = append(history, cc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tasks
		WHERE runner_id = $1
		  AND kind = $2
		  AND status IN ('completed', 'delivered')
	`, runnerID, string(kind)).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("completed count for runner %s: %w", runnerID, err)
	}
	return history, total, nil
}
