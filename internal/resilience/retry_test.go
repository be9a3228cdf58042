package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleep captures requested delays without waiting.
func recordSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_LinearBackoffBetweenRetries(t *testing.T) {
	var delays []time.Duration
	cfg := FromOracleConfig(3, 100)
	cfg.Sleep = recordSleep(&delays)

	var calls int
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var delays []time.Duration
	cfg := RetryConfig{MaxAttempts: 3, Sleep: recordSleep(&delays)}

	var calls int
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("always fails"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2, "no sleep after the final attempt")
}

func TestDo_NonTransientError_NoRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), RetryConfig{MaxAttempts: 3}, func(_ context.Context) error {
		calls++
		return errors.New("permanent error: bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled_StopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond}

	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return NewTransientError(errors.New("fail"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_CustomShouldRetryAndOnRetry(t *testing.T) {
	var delays []time.Duration
	var retried []int
	cfg := RetryConfig{
		MaxAttempts: 3,
		Sleep:       recordSleep(&delays),
		ShouldRetry: func(err error) bool { return err.Error() == "retry me" },
		OnRetry:     func(attempt int, _ error) { retried = append(retried, attempt) },
	}

	var calls int
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("retry me")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int{1}, retried)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	var delays []time.Duration
	cfg := RetryConfig{MaxAttempts: 2, Sleep: recordSleep(&delays)}

	var calls int
	val, err := DoVal(context.Background(), cfg, func(_ context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", NewTransientError(errors.New("fail"), 500)
		}
		return "hello", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", val)

	zero, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		return 42, NewTransientError(errors.New("fail"), 500)
	})
	require.Error(t, err)
	assert.Zero(t, zero)
}

func TestComputeBackoff(t *testing.T) {
	linear := applyDefaults(RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 250 * time.Millisecond})
	assert.Equal(t, 100*time.Millisecond, computeBackoff(1, linear))
	assert.Equal(t, 200*time.Millisecond, computeBackoff(2, linear))
	assert.Equal(t, 250*time.Millisecond, computeBackoff(3, linear), "capped")

	defaults := applyDefaults(RetryConfig{})
	assert.Equal(t, time.Second, computeBackoff(1, defaults))
	assert.Equal(t, 30*time.Second, computeBackoff(40, defaults))
}
