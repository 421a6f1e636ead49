package network

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"github.com/guildump/guildump/internal/guilded"
)

const testRateLimit = 100.0 // per second

// errFn returns a callback that returns each error from errs in turn,
// and nil after the list is exhausted.
func errFn(errs ...error) func(context.Context) error {
	i := 0
	return func(context.Context) error {
		if i < len(errs) {
			err := errs[i]
			i++
			return err
		}
		return nil
	}
}

func TestWithRetry(t *testing.T) {
	t.Parallel()
	oldWait, oldNetWait := waitFn, netWaitFn
	defer func() { waitFn, netWaitFn = oldWait, oldNetWait }()
	waitFn = func(int) time.Duration { return time.Millisecond }
	netWaitFn = waitFn

	lim := func() *rate.Limiter { return rate.NewLimiter(testRateLimit, 1) }

	t.Run("no errors", func(t *testing.T) {
		err := WithRetry(context.Background(), lim(), 3, errFn())
		assert.NoError(t, err)
	})
	t.Run("rate limited once, then succeeds", func(t *testing.T) {
		err := WithRetry(context.Background(), lim(), 3,
			errFn(&guilded.RateLimitedError{RetryAfter: time.Millisecond}))
		assert.NoError(t, err)
	})
	t.Run("rate limits don't consume attempts", func(t *testing.T) {
		rl := &guilded.RateLimitedError{RetryAfter: time.Millisecond}
		err := WithRetry(context.Background(), lim(), 2, errFn(rl, rl, rl, rl, rl))
		assert.NoError(t, err)
	})
	t.Run("recoverable server error", func(t *testing.T) {
		err := WithRetry(context.Background(), lim(), 3,
			errFn(guilded.StatusCodeError{Code: 500, Status: "500 Internal Server Error"}))
		assert.NoError(t, err)
	})
	t.Run("unrecoverable server error", func(t *testing.T) {
		err := WithRetry(context.Background(), lim(), 3,
			errFn(guilded.StatusCodeError{Code: 404, Status: "404 Not Found"}))
		assert.Error(t, err)
	})
	t.Run("auth error is fatal", func(t *testing.T) {
		ae := &guilded.AuthError{Err: errors.New("401")}
		calls := 0
		err := WithRetry(context.Background(), lim(), 3, func(context.Context) error {
			calls++
			return ae
		})
		assert.Equal(t, 1, calls, "auth errors must not be retried")
		var got *guilded.AuthError
		assert.ErrorAs(t, err, &got)
	})
	t.Run("attempts exhausted", func(t *testing.T) {
		sce := guilded.StatusCodeError{Code: 503, Status: "503 Service Unavailable"}
		err := WithRetry(context.Background(), lim(), 2, errFn(sce, sce, sce, sce))
		assert.ErrorIs(t, err, ErrRetryFailed)
	})
}

func TestWithRetry_backoffCeiling(t *testing.T) {
	SetMaxAllowedWaitTime(50 * time.Millisecond)
	defer SetMaxAllowedWaitTime(5 * time.Minute)

	// each hit doubles the wait; the third would exceed the ceiling.
	rl := &guilded.RateLimitedError{RetryAfter: 20 * time.Millisecond}
	err := WithRetry(context.Background(), rate.NewLimiter(testRateLimit, 1), 3,
		errFn(rl, rl, rl, rl, rl, rl))
	assert.ErrorIs(t, err, ErrBackoffCeiling)
}

func TestWithRetry_rateLimitDelayHonoured(t *testing.T) {
	// no request must be issued before the declared backoff elapses.
	const retryAfter = 50 * time.Millisecond
	var calls []time.Time
	err := WithRetry(context.Background(), rate.NewLimiter(rate.Inf, 1), 3,
		func(context.Context) error {
			calls = append(calls, time.Now())
			if len(calls) == 1 {
				return &guilded.RateLimitedError{RetryAfter: retryAfter}
			}
			return nil
		})
	assert.NoError(t, err)
	if assert.Len(t, calls, 2) {
		assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), retryAfter)
	}
}

func TestWithRetry_cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, rate.NewLimiter(testRateLimit, 1), 3, errFn())
	assert.Error(t, err)
}

func Test_cubicWait(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 8 * time.Second},
		{1, 27 * time.Second},
		{2, 64 * time.Second},
		{5, 5 * time.Minute}, // capped
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cubicWait(tt.attempt))
	}
}

func Test_isRecoverable(t *testing.T) {
	assert.True(t, isRecoverable(500))
	assert.True(t, isRecoverable(503))
	assert.True(t, isRecoverable(408))
	assert.False(t, isRecoverable(501))
	assert.False(t, isRecoverable(404))
	assert.False(t, isRecoverable(403))
	assert.False(t, isRecoverable(200))
}
