// Package readiness provides polling primitives for waiting on cluster
// resources during bootstrap.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeoutExceeded is returned when a readiness deadline is exceeded.
var ErrTimeoutExceeded = errors.New("timeout exceeded")

// DefaultInterval is the pause between readiness checks when the caller does
// not specify one.
const DefaultInterval = 2 * time.Second

// CheckFunc reports whether the awaited condition holds. Returning an error
// aborts the poll; transient failures should return (false, nil) to keep
// polling.
type CheckFunc func(ctx context.Context) (bool, error)

// PollForReadiness invokes check every DefaultInterval until it reports ready,
// returns an error, or the deadline elapses. The deadline also bounds each
// individual check through the derived context.
func PollForReadiness(ctx context.Context, deadline time.Duration, check CheckFunc) error {
	return PollForReadinessEvery(ctx, DefaultInterval, deadline, check)
}

// PollForReadinessEvery is PollForReadiness with an explicit check interval.
// The first check runs immediately.
func PollForReadinessEvery(
	ctx context.Context,
	interval time.Duration,
	deadline time.Duration,
	check CheckFunc,
) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	pollCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ready, err := check(pollCtx)
		if err != nil {
			return fmt.Errorf("failed to poll for readiness: %w", err)
		}

		if ready {
			return nil
		}

		select {
		case <-pollCtx.Done():
			if errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("failed to poll for readiness: %w", ErrTimeoutExceeded)
			}

			return fmt.Errorf("failed to poll for readiness: %w", pollCtx.Err())
		case <-ticker.C:
		}
	}
}
