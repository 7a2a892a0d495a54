package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusrun/dispatch/internal/domain"
)

// TaskStore abstracts all database access for tasks.
//
// Every mutating method that participates in the offer lifecycle is a
// conditional update: the WHERE clause encodes the caller's last known state
// and the boolean result reports whether the row was actually won. A false
// return is a lost race, not an error — the protocol's correctness depends on
// single-statement atomicity, so no method takes locks.
type TaskStore interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id string) (*domain.Task, error)

	// ClaimAssignment persists the ranked queue and the first offer in one
	// statement, conditioned on the task being pending and unclaimed.
	ClaimAssignment(ctx context.Context, taskID string, queue []string, head string, now, expires time.Time) (bool, error)

	// CancelUnassigned terminates a pending task and clears all queue and
	// notification fields, conditioned on no offer being outstanding so a
	// concurrent claim wins cleanly.
	CancelUnassigned(ctx context.Context, taskID string, now time.Time) (bool, error)

	// ListExpiredOffers returns pending, unaccepted tasks whose outstanding
	// offer was made before the cutoff, oldest first, bounded by limit.
	ListExpiredOffers(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Task, error)

	// AdvanceOffer moves the queue pointer to nextIndex and re-targets the
	// offer, compare-and-swapped on the previously notified runner.
	AdvanceOffer(ctx context.Context, taskID, prevNotified, nextNotified string, nextIndex int, timeouts []string, now, expires time.Time) (bool, error)

	// CancelExhausted terminates a task whose queue ran out, conditioned on
	// the previously notified runner so a concurrent accept wins cleanly.
	CancelExhausted(ctx context.Context, taskID, prevNotified string, nextIndex int, timeouts []string, now time.Time) (bool, error)

	// RetargetOffer re-points the offer without touching queue fields. Used
	// by the legacy re-rank path for rows that predate queue storage.
	RetargetOffer(ctx context.Context, taskID, prevNotified, nextNotified string, timeouts []string, now, expires time.Time) (bool, error)
}

type taskStore struct {
	pool *pgxpool.Pool
}

// NewTaskStore wraps a pgxpool with the TaskStore interface.
func NewTaskStore(pool *pgxpool.Pool) TaskStore {
	return &taskStore{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

const taskColumns = `id, requester_id, kind, title, categories, status,
	requester_lat, requester_lon,
	runner_id, notified_runner_id, notified_at, notified_expires_at,
	ranked_runner_ids, current_queue_index, timeout_runner_ids,
	declined_runner_id, created_at, updated_at`

func (s *taskStore) Create(ctx context.Context, task *domain.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks
			(id, requester_id, kind, title, categories, status, requester_lat, requester_lon, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		task.ID, task.RequesterID, string(task.Kind), task.Title,
		task.Categories, string(task.Status), task.RequesterLat, task.RequesterLon,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

func (s *taskStore) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE id = $1
	`, id)

	task, err := scanTask(row)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			return nil, &domain.TaskNotFoundError{TaskID: id}
		}
		return nil, err
	}
	return task, nil
}

func (s *taskStore) ClaimAssignment(ctx context.Context, taskID string, queue []string, head string, now, expires time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET ranked_runner_ids = $2,
		    current_queue_index = 0,
		    notified_runner_id = $3,
		    notified_at = $4,
		    notified_expires_at = $5,
		    updated_at = $4
		WHERE id = $1
		  AND status = 'pending'
		  AND notified_runner_id IS NULL
		  AND runner_id IS NULL
	`, taskID, queue, head, now, expires)
	if err != nil {
		return false, fmt.Errorf("claim assignment for task %s: %w", taskID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *taskStore) CancelUnassigned(ctx context.Context, taskID string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'cancelled',
		    ranked_runner_ids = '{}',
		    current_queue_index = 0,
		    notified_runner_id = NULL,
		    notified_at = NULL,
		    notified_expires_at = NULL,
		    updated_at = $2
		WHERE id = $1
		  AND status = 'pending'
		  AND notified_runner_id IS NULL
		  AND runner_id IS NULL
	`, taskID, now)
	if err != nil {
		return false, fmt.Errorf("cancel task %s: %w", taskID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *taskStore) ListExpiredOffers(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = 'pending'
		  AND runner_id IS NULL
		  AND notified_runner_id IS NOT NULL
		  AND notified_at < $1
		ORDER BY notified_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired offers: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *taskStore) AdvanceOffer(ctx context.Context, taskID, prevNotified, nextNotified string, nextIndex int, timeouts []string, now, expires time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET notified_runner_id = $3,
		    notified_at = $5,
		    notified_expires_at = $6,
		    current_queue_index = $4,
		    timeout_runner_ids = $7,
		    updated_at = $5
		WHERE id = $1
		  AND status = 'pending'
		  AND runner_id IS NULL
		  AND notified_runner_id = $2
	`, taskID, prevNotified, nextNotified, nextIndex, now, expires, timeouts)
	if err != nil {
		return false, fmt.Errorf("advance offer for task %s: %w", taskID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *taskStore) CancelExhausted(ctx context.Context, taskID, prevNotified string, nextIndex int, timeouts []string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'cancelled',
		    notified_runner_id = NULL,
		    notified_at = NULL,
		    notified_expires_at = NULL,
		    current_queue_index = $3,
		    timeout_runner_ids = $4,
		    updated_at = $5
		WHERE id = $1
		  AND status = 'pending'
		  AND runner_id IS NULL
		  AND notified_runner_id = $2
	`, taskID, prevNotified, nextIndex, timeouts, now)
	if err != nil {
		return false, fmt.Errorf("cancel exhausted task %s: %w", taskID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *taskStore) RetargetOffer(ctx context.Context, taskID, prevNotified, nextNotified string, timeouts []string, now, expires time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET notified_runner_id = $3,
		    notified_at = $5,
		    notified_expires_at = $6,
		    timeout_runner_ids = $4,
		    updated_at = $5
		WHERE id = $1
		  AND status = 'pending'
		  AND runner_id IS NULL
		  AND notified_runner_id = $2
	`, taskID, prevNotified, nextNotified, timeouts, now, expires)
	if err != nil {
		return false, fmt.Errorf("retarget offer for task %s: %w", taskID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// scanTask reads a task row from any pgx row type.
func scanTask(row interface {
	Scan(...any) error
}) (*domain.Task, error) {
	var task domain.Task
	var kind, status string
	err := row.Scan(
		&task.ID, &task.RequesterID, &kind, &task.Title, &task.Categories, &status,
		&task.RequesterLat, &task.RequesterLon,
		&task.RunnerID, &task.NotifiedRunnerID, &task.NotifiedAt, &task.NotifiedExpiresAt,
		&task.RankedRunnerIDs, &task.CurrentQueueIndex, &task.TimeoutRunnerIDs,
		&task.DeclinedRunnerID, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.TaskNotFoundError{TaskID: "unknown"}
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.Kind = domain.Kind(kind)
	task.Status = domain.Status(status)
	return &task, nil
}
