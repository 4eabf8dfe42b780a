package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// indexReadRetry mirrors the policy of the OpenSearch reads with delays
// short enough for tests.
func indexReadRetry() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 2 * time.Millisecond
	cfg.MaxDelay = 10 * time.Millisecond
	cfg.Jitter = false
	cfg.RetryIf = IsRetryable
	return cfg
}

// failing returns a read that fails with errs in turn, then yields hits.
func failing(errs ...error) (func() (int, error), *int) {
	calls := 0
	return func() (int, error) {
		calls++
		if calls <= len(errs) {
			return 0, errs[calls-1]
		}
		return 42, nil
	}, &calls
}

// ============================================================================
// Classification
// ============================================================================

func TestRetryWithResult_IndexReadClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
		wantOK    bool
	}{
		{name: "timeout is retried", err: New(ErrCodeNetworkTimeout, "index request timed out", nil), wantCalls: 2, wantOK: true},
		{name: "5xx is retried", err: NetworkError("search: status 503", nil), wantCalls: 2, wantOK: true},
		{name: "4xx is final", err: New(ErrCodeServiceRejected, "search: status 400", nil), wantCalls: 1},
		{name: "missing index is final", err: New(ErrCodeIndexNotFound, "index chatbot_docs not found", nil), wantCalls: 1},
		{name: "decode failure is final", err: New(ErrCodeSearchFailed, "search: failed to decode response", nil), wantCalls: 1},
		{name: "plain error is final", err: errors.New("boom"), wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a read failing once with the error
			read, calls := failing(tt.err)

			// When: retrying under the index read policy
			got, err := RetryWithResult(context.Background(), indexReadRetry(), read)

			// Then: only transient errors get another attempt
			assert.Equal(t, tt.wantCalls, *calls)
			if tt.wantOK {
				require.NoError(t, err)
				assert.Equal(t, 42, got)
				return
			}
			require.Error(t, err)
			assert.Zero(t, got)
			assert.Equal(t, GetCode(tt.err), GetCode(err))
			assert.NotContains(t, err.Error(), "retries", "final errors come back unwrapped")
		})
	}
}

func TestRetryWithResult_GivesUpAfterMaxRetries(t *testing.T) {
	// Given: a cluster that stays unavailable
	unavailable := NetworkError("search: status 502", nil)
	read, calls := failing(unavailable, unavailable, unavailable, unavailable)

	// When: retrying
	_, err := RetryWithResult(context.Background(), indexReadRetry(), read)

	// Then: one attempt plus MaxRetries, and the cause stays visible
	require.Error(t, err)
	assert.Equal(t, 3, *calls)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, ErrCodeNetworkUnavailable, GetCode(err))
	assert.True(t, IsRetryable(err))
}

func TestRetry_NilRetryIfRetriesEverything(t *testing.T) {
	cfg := indexReadRetry()
	cfg.RetryIf = nil
	attempts := 0

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

// ============================================================================
// Timing
// ============================================================================

func TestRetryWithResult_StopsAtDeadline(t *testing.T) {
	// Given: a request timeout shorter than the backoff schedule
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	cfg := RetryConfig{MaxRetries: 10, InitialDelay: 20 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	// When: every attempt times out
	start := time.Now()
	_, err := RetryWithResult(ctx, cfg, func() ([]string, error) {
		return nil, New(ErrCodeNetworkTimeout, "timeout", nil)
	})

	// Then: the deadline ends the loop
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestRetry_CancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false

	err := Retry(ctx, DefaultRetryConfig(), func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestRetry_BackoffGrowsAndCaps(t *testing.T) {
	// Given: delays of 10ms doubling, capped at 25ms
	var stamps []time.Time
	cfg := RetryConfig{MaxRetries: 4, InitialDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond, Multiplier: 2}

	// When: four attempts fail
	_ = Retry(context.Background(), cfg, func() error {
		stamps = append(stamps, time.Now())
		if len(stamps) < 5 {
			return errors.New("down")
		}
		return nil
	})

	// Then: gaps are about 10, 20, 25, 25ms
	require.Len(t, stamps, 5)
	want := []time.Duration{10, 20, 25, 25}
	for i, w := range want {
		gap := stamps[i+1].Sub(stamps[i])
		assert.GreaterOrEqual(t, gap, w*time.Millisecond, "gap %d", i)
		assert.Less(t, gap, (w+40)*time.Millisecond, "gap %d", i)
	}
}

func TestRetry_JitterStaysWithinHalfDelay(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 1, InitialDelay: 40 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: true}
	var stamps []time.Time

	_ = Retry(context.Background(), cfg, func() error {
		stamps = append(stamps, time.Now())
		return errors.New("down")
	})

	require.Len(t, stamps, 2)
	gap := stamps[1].Sub(stamps[0])
	assert.GreaterOrEqual(t, gap, 20*time.Millisecond)
	assert.Less(t, gap, 80*time.Millisecond)
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 2*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.True(t, cfg.Jitter)
	assert.Nil(t, cfg.RetryIf, "callers choose the classification")
}
