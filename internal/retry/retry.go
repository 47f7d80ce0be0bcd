// Package retry re-runs transient failures with capped exponential backoff.
// The pipeline components never retry on their own; callers at the edge
// decide whether to wrap them.
package retry

import (
	"context"
	"errors"
	"time"

	"healthai/internal/domain"
	"healthai/internal/logger"
)

const (
	DefaultAttempts = 3
	DefaultBase     = 200 * time.Millisecond
	DefaultMax      = 5 * time.Second
)

// Policy bounds how often and how long to retry.
type Policy struct {
	// Attempts is the total number of calls, including the first.
	Attempts int
	Base     time.Duration
	Max      time.Duration
	// Retryable decides which errors are retried. Defaults to domain.Retryable.
	Retryable func(error) bool

	sleep func(context.Context, time.Duration) error
}

// Default returns the policy used by the CLI.
func Default() Policy {
	return Policy{Attempts: DefaultAttempts, Base: DefaultBase, Max: DefaultMax}
}

type retryAfter interface {
	RetryAfterDelay() time.Duration
}

// Delay returns the backoff before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base, limit := p.Base, p.Max
	if base <= 0 {
		base = DefaultBase
	}
	if limit <= 0 {
		limit = DefaultMax
	}
	if attempt > 30 {
		return limit
	}
	d := base << attempt
	if d > limit {
		d = limit
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done. A backend's Retry-After hint replaces the
// computed delay when it is longer.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = domain.Retryable
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var zero T
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if !retryable(err) || attempt == attempts-1 {
			break
		}
		d := p.Delay(attempt)
		var ra retryAfter
		if errors.As(err, &ra) && ra.RetryAfterDelay() > d {
			d = ra.RetryAfterDelay()
		}
		logger.Debug("attempt %d failed (%v), retrying in %s", attempt+1, err, d)
		if serr := sleep(ctx, d); serr != nil {
			return zero, err
		}
	}
	return zero, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
