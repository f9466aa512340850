package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryWithResultSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}

	got, err := RetryWithResult(context.Background(), func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("connection reset by peer")
		}
		return 42, nil
	}, &cfg)

	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, 3, attempts)
}

func TestRetryWithResultStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	permanent := errors.New("bad request")

	_, err := RetryWithResult(context.Background(), func() (int, error) {
		attempts++
		return 0, &RetryableError{Err: permanent, Retryable: false}
	}, nil)

	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, attempts)
}

func TestRetryWithResultRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	attempts := 0
	cancel()
	_, err := RetryWithResult(ctx, func() (int, error) {
		attempts++
		return 0, errors.New("timeout")
	}, &cfg)

	require.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryableErrorKeywordHeuristic(t *testing.T) {
	require.True(t, IsRetryableError(errors.New("dial tcp: i/o timeout")))
	require.True(t, IsRetryableError(errors.New("503 service unavailable")))
	require.False(t, IsRetryableError(errors.New("invalid signature")))
	require.False(t, IsRetryableError(nil))
}
