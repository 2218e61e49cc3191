package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/star-forensics/internal/errors"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestRetry(t *testing.T) {
	netErr := errors.NewNetworkError("connection reset", nil)

	tests := []struct {
		name          string
		failures      []error
		attempts      int
		expectedCalls int
		expectErr     bool
	}{
		{"succeeds first time", nil, 3, 1, false},
		{"recovers after transient failures", []error{netErr, netErr}, 3, 3, false},
		{"gives up after max attempts", []error{netErr, netErr, netErr, netErr}, 3, 3, true},
		{"does not retry validation errors", []error{errors.NewValidationError("bad")}, 3, 1, true},
		{"rate limit beyond max delay stops", []error{errors.NewRateLimitError(time.Hour)}, 3, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(t.Context(), fastRetry(tt.attempts), func(context.Context) error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})
			assert.Equal(t, tt.expectedCalls, calls)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cfg := fastRetry(5)
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	calls := 0
	err := Retry(ctx, cfg, func(context.Context) error {
		calls++
		cancel()
		return errors.NewNetworkError("down", nil)
	})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestCalculateDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(cfg, 0))
	assert.Equal(t, 400*time.Millisecond, calculateDelay(cfg, 2))
	assert.Equal(t, time.Second, calculateDelay(cfg, 10))

	cfg.JitterEnabled = true
	d := calculateDelay(cfg, 1)
	assert.GreaterOrEqual(t, d, 200*time.Millisecond)
	assert.Less(t, d, 220*time.Millisecond)
}
