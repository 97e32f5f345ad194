package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-ingest/internal/adapters"
)

func TestRetrierStopsOnPermanentError(t *testing.T) {
	calls := 0
	r := Retrier{Policy: DefaultRetryPolicy(), Sleep: func(time.Duration) {}}
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return adapters.Permanent("conversion", adapters.CodeUnsupportedFormat, errors.New("nope"))
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	var re *RetryExhaustedError
	assert.False(t, errors.As(err, &re))
}

func TestRetrierExhaustsTransientErrors(t *testing.T) {
	var delays []time.Duration
	var retries []int
	r := Retrier{Policy: DefaultRetryPolicy(), Sleep: func(d time.Duration) { delays = append(delays, d) }}
	err := r.Do(context.Background(), func(context.Context) error {
		return timeoutErr()
	}, func(attempt, max int, err error, delay time.Duration) {
		retries = append(retries, attempt)
		assert.Equal(t, 3, max)
	})

	var re *RetryExhaustedError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 3, re.Attempts)
	assert.Equal(t, []int{1, 2}, retries)
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 600 * time.Millisecond}, delays)
	assert.Equal(t, adapters.CodeTimeout, adapters.CodeOf(err))
}

func TestRetrierSucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	r := Retrier{Policy: DefaultRetryPolicy(), Sleep: func(time.Duration) {}}
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return timeoutErr()
		}
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}
