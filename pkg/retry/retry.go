// Package retry runs a function a bounded number of times, backing off
// quadratically between failures.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config controls how Do retries.
type Config struct {
	// MaxAttempts bounds total calls, counting the first one. Zero or
	// negative means a single attempt.
	MaxAttempts int
	// BaseDelay scales the backoff: the wait after attempt n is n² × BaseDelay.
	BaseDelay time.Duration
	// OnRetry fires after each failed attempt that will be retried.
	// attempt counts from 1.
	OnRetry func(attempt int, err error)
}

// Do invokes fn until it succeeds, attempts run out, or ctx is done.
// It returns nil on success and fn's last error once attempts are
// exhausted; cancellation mid-wait wraps ctx.Err.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	max := cfg.MaxAttempts
	if max < 1 {
		max = 1
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt >= max {
			return lastErr
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}
		select {
		case <-time.After(backoff(cfg.BaseDelay, attempt)):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
	}
}

func backoff(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt*attempt)
}
