package retry

import (
	"context"
	"errors"
	"time"
)

// abortError marks an error as final for Policy.Do.
type abortError struct {
	err error
}

// Error implements the error interface.
func (e *abortError) Error() string { return e.err.Error() }

// Unwrap returns the wrapped error.
func (e *abortError) Unwrap() error { return e.err }

// Abort marks err as not retryable: Do returns it immediately without
// consuming the remaining attempts.
func Abort(err error) error {
	return &abortError{err: err}
}

// Policy retries an operation a bounded number of times at a fixed
// interval. The final error is surfaced, never swallowed.
type Policy struct {
	// MaxAttempts is the total number of attempts (minimum 1).
	MaxAttempts int

	// Interval is the delay between attempts.
	Interval time.Duration
}

// Do runs fn until it succeeds, the attempt budget is exhausted, the
// context is cancelled, or fn returns an error wrapped with Abort.
// Returns the error from the last attempt.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Interval):
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		var abort *abortError
		if errors.As(err, &abort) {
			return abort.err
		}
	}
	return err
}
