package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/campusrun/dispatch/internal/assign"
)

const (
	// LeaderKey is the Redis lease key shared by all sweeper replicas.
	LeaderKey = "sweeper:leader"
	// LeaderTTL bounds how long a dead leader blocks the sweep.
	LeaderTTL = 30 * time.Second

	// DefaultSchedule keeps worst-case offer overstay small relative to the
	// 60s offer TTL.
	DefaultSchedule = "@every 15s"
)

// Elector grants or denies sweep leadership for one tick.
type Elector interface {
	AcquireOrRenew(ctx context.Context) (bool, error)
}

// Runner executes one reassignment batch.
type Runner interface {
	Sweep(ctx context.Context) (assign.Summary, error)
}

// Sweeper runs the reassignment sweep on a cron cadence with Redis leader
// election, so several replicas can run but only one sweeps.
type Sweeper struct {
	leader   Elector
	runner   Runner
	schedule cron.Schedule
	logger   *slog.Logger
}

// New parses the cron expression (standard five-field specs and descriptors
// like "@every 15s") and returns a ready Sweeper.
func New(leader Elector, runner Runner, scheduleExpr string, logger *slog.Logger) (*Sweeper, error) {
	schedule, err := cron.ParseStandard(scheduleExpr)
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		leader:   leader,
		runner:   runner,
		schedule: schedule,
		logger:   logger,
	}, nil
}

// Run blocks until ctx is cancelled, firing ticks per the schedule. The first
// tick runs immediately so a fresh deploy does not sit on a backlog of
// expired offers.
func (s *Sweeper) Run(ctx context.Context) {
	s.tick(ctx)

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	isLeader, err := s.leader.AcquireOrRenew(ctx)
	if err != nil {
		s.logger.Error("leader election failed", slog.String("error", err.Error()))
		return
	}
	if !isLeader {
		return
	}

	summary, err := s.runner.Sweep(ctx)
	if err != nil {
		s.logger.Error("sweep failed", slog.String("error", err.Error()))
		return
	}
	if summary.Processed > 0 {
		s.logger.Info("sweep complete",
			slog.Int("processed", summary.Processed),
			slog.Int("reassigned", summary.Reassigned),
			slog.Int("cancelled", summary.Cancelled),
			slog.Int("skipped", summary.Skipped),
			slog.Int("errors", len(summary.Errors)),
		)
	}
}
