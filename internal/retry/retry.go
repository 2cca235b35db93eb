// Package retry runs external calls under an exponential backoff schedule.
// Delays follow base*2^(attempt-1) between attempts, capped by the attempt
// budget of the component (completion: 2 attempts, delivery: 3).
package retry

import (
	"context"
	"time"
)

// Config is the retry policy for one component.
type Config struct {
	// MaxAttempts is the total attempt budget (first call included).
	MaxAttempts int

	// BaseDelay is the wait before the second attempt; later waits double.
	BaseDelay time.Duration

	// Retryable decides whether a failure is worth another attempt.
	// Nil means every failure is retryable.
	Retryable func(error) bool

	// Sleep is replaceable in tests. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do invokes fn until it succeeds, the attempt budget is exhausted, a failure
// is classified non-retryable, or ctx is cancelled. It returns the last result
// and error.
func Do[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var result T
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return result, err
		}
		if attempt == attempts {
			break
		}
		if serr := sleep(ctx, Delay(cfg.BaseDelay, attempt)); serr != nil {
			return result, err
		}
	}
	return result, err
}

// Delay returns the backoff wait after the given attempt (1-based):
// base, 2*base, 4*base, ...
func Delay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
