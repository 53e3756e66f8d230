// Package retry runs an operation a fixed number of times with a fixed delay
// between attempts. There is no backoff and no jitter.
package retry

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

// Policy is the attempt budget shared by login, digest fetch, download and
// verification.
type Policy struct {
	MaxAttempts int           // total attempts, at least 1
	Delay       time.Duration // wait between attempts
}

// DefaultPolicy is three attempts five seconds apart.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Delay: 5 * time.Second}
}

// retryable is implemented by errors that are worth another attempt.
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err, or any error it wraps, asks to be retried.
func IsRetryable(err error) bool {
	var r retryable
	return errors.As(err, &r) && r.Retryable()
}

// RetryableError marks an arbitrary error as retryable.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string   { return e.Err.Error() }
func (e RetryableError) Unwrap() error   { return e.Err }
func (e RetryableError) Retryable() bool { return true }

// Retryable wraps err so that IsRetryable reports true.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// Retrier executes operations under a Policy.
type Retrier struct {
	Policy Policy
	Clock  clockwork.Clock

	// OnRetry, if set, is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// New returns a Retrier using the real clock.
func New(p Policy) *Retrier {
	return &Retrier{Policy: p, Clock: clockwork.NewRealClock()}
}

// Do calls fn until it succeeds, returns a non-retryable error, the budget
// is exhausted or ctx is done. It returns the number of attempts made and
// the last error.
func (r *Retrier) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	max := r.Policy.MaxAttempts
	if max < 1 {
		max = 1
	}
	clock := r.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if !IsRetryable(lastErr) || attempt == max {
			return attempt, lastErr
		}

		if r.OnRetry != nil {
			r.OnRetry(attempt, lastErr, r.Policy.Delay)
		}
		if r.Policy.Delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-clock.After(r.Policy.Delay):
		}
	}
	return max, lastErr
}
