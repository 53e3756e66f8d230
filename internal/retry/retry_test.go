package retry

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()
	r := &Retrier{Policy: Policy{MaxAttempts: 3}}

	calls := 0
	attempts, err := r.Do(context.Background(), func(int) error {
		calls++
		if calls < 3 {
			return Retryable(errFlaky)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	t.Parallel()
	var retried []int
	r := &Retrier{
		Policy:  Policy{MaxAttempts: 3},
		OnRetry: func(attempt int, err error, wait time.Duration) { retried = append(retried, attempt) },
	}

	attempts, err := r.Do(context.Background(), func(int) error { return Retryable(errFlaky) })
	assert.Equal(t, 3, attempts)
	assert.True(t, errors.Is(err, errFlaky))
	assert.Equal(t, []int{1, 2}, retried, "no retry notification after the last attempt")
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	t.Parallel()
	r := &Retrier{Policy: Policy{MaxAttempts: 5}}

	calls := 0
	attempts, err := r.Do(context.Background(), func(int) error {
		calls++
		return errFlaky
	})
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.Equal(t, errFlaky, err)
}

func TestDo_WaitsFixedDelayBetweenAttempts(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	r := &Retrier{Policy: Policy{MaxAttempts: 3, Delay: 5 * time.Second}, Clock: clock}

	done := make(chan error, 1)
	calls := make(chan int, 3)
	go func() {
		_, err := r.Do(context.Background(), func(attempt int) error {
			calls <- attempt
			if attempt < 3 {
				return Retryable(errFlaky)
			}
			return nil
		})
		done <- err
	}()

	assert.Equal(t, 1, <-calls)
	clock.BlockUntil(1)
	clock.Advance(5 * time.Second)
	assert.Equal(t, 2, <-calls)
	clock.BlockUntil(1)
	clock.Advance(5 * time.Second)
	assert.Equal(t, 3, <-calls)
	require.NoError(t, <-done)
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	r := &Retrier{Policy: Policy{MaxAttempts: 3, Delay: time.Minute}, Clock: clock}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := r.Do(ctx, func(int) error { return Retryable(errFlaky) })
		done <- err
	}()

	clock.BlockUntil(1)
	cancel()
	assert.Equal(t, context.Canceled, <-done)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errFlaky))
	assert.True(t, IsRetryable(Retryable(errFlaky)))
	assert.True(t, IsRetryable(errors.Wrap(Retryable(errFlaky), "context")))
	assert.Nil(t, Retryable(nil))
}

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 5*time.Second, p.Delay)
}
