package assign

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/campusrun/dispatch/internal/domain"
	"github.com/campusrun/dispatch/internal/kafka"
	"github.com/campusrun/dispatch/internal/postgres"
	"github.com/campusrun/dispatch/internal/ranking"
	redisstore "github.com/campusrun/dispatch/internal/redis"
	"github.com/campusrun/dispatch/pkg/telemetry"
)

// DefaultBatchSize bounds how many expired offers one sweep handles.
const DefaultBatchSize = 50

// sweep results, used as metric labels and summary buckets.
const (
	resultReassigned = "reassigned"
	resultCancelled  = "cancelled"
	resultSkipped    = "skipped"
	resultError      = "error"
)

// Summary tallies one reassignment sweep.
type Summary struct {
	Processed  int               `json:"processed"`
	Reassigned int               `json:"reassigned"`
	Cancelled  int               `json:"cancelled"`
	Skipped    int               `json:"skipped"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// Reassigner advances expired offers: per task it moves the queue pointer to
// the next candidate or cancels when the queue is exhausted. It never
// recomputes a stored queue — reassignment is pointer advancement only.
type Reassigner struct {
	tasks     postgres.TaskStore
	runners   postgres.RunnerStore
	ranker    *ranking.Engine
	notify    *notifier
	logger    *slog.Logger
	offerTTL  time.Duration
	batchSize int
	now       func() time.Time
}

// NewReassigner constructs a Reassigner. events may be nil to disable the
// lifecycle stream.
func NewReassigner(
	tasks postgres.TaskStore,
	runners postgres.RunnerStore,
	ranker *ranking.Engine,
	sink redisstore.Sink,
	events kafka.Producer,
	logger *slog.Logger,
) *Reassigner {
	return &Reassigner{
		tasks:     tasks,
		runners:   runners,
		ranker:    ranker,
		notify:    &notifier{sink: sink, events: events, logger: logger},
		logger:    logger,
		offerTTL:  OfferTTL,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
}

// Sweep processes one batch of expired offers, oldest first. Per-task store
// failures are isolated into the summary's error map so one bad row cannot
// stall every other task's reassignment; only the batch scan itself can fail
// the sweep.
func (r *Reassigner) Sweep(ctx context.Context) (Summary, error) {
	ctx, span := otel.Tracer("assign").Start(ctx, "assign.sweep")
	defer span.End()

	start := r.now()
	cutoff := start.UTC().Add(-r.offerTTL)

	batch, err := r.tasks.ListExpiredOffers(ctx, cutoff, r.batchSize)
	if err != nil {
		span.RecordError(err)
		return Summary{}, err
	}

	summary := Summary{Errors: map[string]string{}}
	for _, stale := range batch {
		summary.Processed++
		result, err := r.advance(ctx, stale)
		if err != nil {
			summary.Errors[stale.ID] = err.Error()
			telemetry.SweepTasksProcessed.WithLabelValues(resultError).Inc()
			r.logger.Error("reassignment failed",
				slog.String("task_id", stale.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		telemetry.SweepTasksProcessed.WithLabelValues(result).Inc()
		switch result {
		case resultReassigned:
			summary.Reassigned++
		case resultCancelled:
			summary.Cancelled++
		case resultSkipped:
			summary.Skipped++
		}
	}

	telemetry.SweepDurationSeconds.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("sweep.processed", summary.Processed),
		attribute.Int("sweep.reassigned", summary.Reassigned),
		attribute.Int("sweep.cancelled", summary.Cancelled),
	)
	return summary, nil
}

// advance runs the race-safe advancement protocol for one expired offer.
//
// Every conditional update is compare-and-swapped on the previously notified
// runner; zero affected rows means a concurrent actor (typically an accept)
// resolved the task between our read and our write, which is the expected,
// correct outcome of the race.
func (r *Reassigner) advance(ctx context.Context, stale *domain.Task) (string, error) {
	fresh, err := r.tasks.GetByID(ctx, stale.ID)
	if err != nil {
		return "", err
	}

	// Any mismatch with the batch scan means another actor already resolved
	// the offer; skip without error.
	if !fresh.OfferOutstanding() ||
		stale.NotifiedRunnerID == nil ||
		*fresh.NotifiedRunnerID != *stale.NotifiedRunnerID {
		return resultSkipped, nil
	}

	now := r.now().UTC()
	timedOut := *fresh.NotifiedRunnerID
	timeouts := appendUnique(fresh.TimeoutRunnerIDs, timedOut)

	log := r.logger.With(
		slog.String("task_id", fresh.ID),
		slog.String("timed_out_runner", timedOut),
	)

	if !fresh.HasQueue() {
		// Rows that predate queue storage: re-rank the live pool. This path
		// never touches queued tasks' pointer semantics.
		return r.advanceLegacy(ctx, fresh, timedOut, timeouts, now, log)
	}

	nextIndex := fresh.CurrentQueueIndex + 1

	if nextIndex >= len(fresh.RankedRunnerIDs) {
		won, err := r.tasks.CancelExhausted(ctx, fresh.ID, timedOut, nextIndex, timeouts, now)
		if err != nil {
			return "", err
		}
		if !won {
			return resultSkipped, nil
		}
		log.Info("queue exhausted, task cancelled",
			slog.Int("queue_size", len(fresh.RankedRunnerIDs)))
		r.notify.cancelToRequester(ctx, fresh, nextIndex, now)
		return resultCancelled, nil
	}

	next := fresh.RankedRunnerIDs[nextIndex]
	expires := now.Add(r.offerTTL)
	won, err := r.tasks.AdvanceOffer(ctx, fresh.ID, timedOut, next, nextIndex, timeouts, now, expires)
	if err != nil {
		return "", err
	}
	if !won {
		return resultSkipped, nil
	}

	log.Info("offer advanced",
		slog.String("next_runner", next),
		slog.Int("queue_index", nextIndex),
	)
	r.notify.offerToRunner(ctx, fresh, next, nextIndex, now, expires, domain.EventTaskReassigned)
	return resultReassigned, nil
}

// advanceLegacy re-runs eligibility and ranking for a task without a stored
// queue, offering the best live candidate. Timed-out and declined runners are
// excluded through the task's exclusion sets.
func (r *Reassigner) advanceLegacy(ctx context.Context, task *domain.Task, timedOut string, timeouts []string, now time.Time, log *slog.Logger) (string, error) {
	cancel := func() (string, error) {
		won, err := r.tasks.CancelExhausted(ctx, task.ID, timedOut, task.CurrentQueueIndex, timeouts, now)
		if err != nil {
			return "", err
		}
		if !won {
			return resultSkipped, nil
		}
		log.Info("no live candidate on legacy path, task cancelled")
		r.notify.cancelToRequester(ctx, task, task.CurrentQueueIndex, now)
		return resultCancelled, nil
	}

	if !task.HasRequesterLocation() {
		return cancel()
	}

	pool, err := r.runners.ListAvailable(ctx)
	if err != nil {
		return "", err
	}

	// The exclusion filter must also skip the runner whose offer just
	// expired; the row still carries them outside timeout_runner_ids.
	scratch := *task
	scratch.TimeoutRunnerIDs = timeouts

	filtered := ranking.Filter(pool, &scratch, *task.RequesterLat, *task.RequesterLon, now)
	if len(filtered.Eligible) == 0 {
		return cancel()
	}

	candidates, err := r.ranker.Rank(ctx, &scratch, *task.RequesterLat, *task.RequesterLon, filtered.Eligible)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return cancel()
	}

	next := candidates[0].Runner.ID
	expires := now.Add(r.offerTTL)
	won, err := r.tasks.RetargetOffer(ctx, task.ID, timedOut, next, timeouts, now, expires)
	if err != nil {
		return "", err
	}
	if !won {
		return resultSkipped, nil
	}

	log.Info("legacy offer retargeted", slog.String("next_runner", next))
	r.notify.offerToRunner(ctx, task, next, task.CurrentQueueIndex, now, expires, domain.EventTaskReassigned)
	return resultReassigned, nil
}

// appendUnique appends id to set if absent, preserving order.
func appendUnique(set []string, id string) []string {
	for _, s := range set {
		if s == id {
			return set
		}
	}
	out := make([]string, 0, len(set)+1)
	out = append(out, set...)
	return append(out, id)
}
