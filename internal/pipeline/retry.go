package pipeline

import (
	"context"
	"time"

	"resume-ingest/internal/adapters"
)

// RetryPolicy bounds retries of one call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is 3 attempts with 300ms, 600ms backoff capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 300 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Delay returns the wait after failed attempt n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Retrier runs calls under a RetryPolicy.
type Retrier struct {
	Policy RetryPolicy
	// Retryable decides whether an error is worth another attempt. Defaults to
	// adapters.IsTransient.
	Retryable func(error) bool
	// Sleep waits between attempts. Defaults to time.Sleep; waits are not cut
	// short by cancellation so an in-flight stage can finish.
	Sleep func(time.Duration)
}

// OnRetry is told about each failed attempt that will be retried.
type OnRetry func(attempt, maxAttempts int, err error, delay time.Duration)

// Do calls fn until it succeeds, fails permanently or runs out of attempts. An
// exhausted run returns *RetryExhaustedError.
func (r Retrier) Do(ctx context.Context, fn func(context.Context) error, onRetry OnRetry) error {
	retryable := r.Retryable
	if retryable == nil {
		retryable = adapters.IsTransient
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	max := r.Policy.attempts()

	var err error
	for attempt := 1; attempt <= max; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == max {
			break
		}
		delay := r.Policy.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, max, err, delay)
		}
		sleep(delay)
	}
	return &RetryExhaustedError{Attempts: max, Err: err}
}
