// Package retry runs an operation a bounded number of times with a delay
// between attempts.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// DelayFunc returns how long to wait after the given failed attempt (1-based).
type DelayFunc func(attempt int) time.Duration

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	Delay    DelayFunc
}

// Fixed waits d between every attempt.
func Fixed(d time.Duration) DelayFunc {
	return func(int) time.Duration { return d }
}

// Linear waits d*attempt, so the second try waits d, the third 2d.
func Linear(d time.Duration) DelayFunc {
	return func(attempt int) time.Duration { return d * time.Duration(attempt) }
}

// Exponential doubles from base up to max, with ±25% jitter.
func Exponential(base, max time.Duration) DelayFunc {
	return func(attempt int) time.Duration {
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		delay := min(base*time.Duration(1<<shift), max)
		if delay <= 0 {
			return 0
		}
		jitter := time.Duration(rand.Int64N(int64(delay)/2 + 1))
		return delay - delay/4 + jitter
	}
}

// FixedPolicy is shorthand for Policy{Attempts: n, Delay: Fixed(d)}.
func FixedPolicy(n int, d time.Duration) Policy {
	return Policy{Attempts: n, Delay: Fixed(d)}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls op until it succeeds, returns a Permanent error, the attempts run
// out, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return err
			}
			return cerr
		}

		err = op(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		if attempt == attempts || p.Delay == nil {
			continue
		}
		if d := p.Delay(attempt); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return err
			case <-t.C:
			}
		}
	}
	return err
}

// Sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
