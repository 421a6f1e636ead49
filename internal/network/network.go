// Package network provides the shared rate limiting and retry/backoff
// machinery used by every component that talks to Guilded.  The rate
// limit is account-wide, so one limiter instance is shared by all API
// callers of a run, and a separate one by the CDN download workers.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/trace"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/guildump/guildump/internal/guilded"
)

// defNumAttempts is the default number of retry attempts for transient
// errors.
const defNumAttempts = 3

var (
	// maxAllowedWaitTime is the ceiling for any single backoff sleep.
	// Transient waits are capped at it;  a rate-limit wait that would
	// exceed it aborts the run (resumable at the last checkpoint).
	maxAllowedWaitTime = 5 * time.Minute
	// waitFn returns the transient-error wait time for the given
	// attempt.  A variable to reduce the test time.
	waitFn    = cubicWait
	netWaitFn = expWait

	mu sync.RWMutex
)

var (
	// ErrRetryFailed is returned if the callback wasn't able to complete
	// without errors within the allowed number of retries.
	ErrRetryFailed = errors.New("callback was unable to complete without errors within the allowed number of retries")
	// ErrBackoffCeiling is returned when the server keeps rate limiting
	// us past the maximum allowed wait time.
	ErrBackoffCeiling = errors.New("rate limit backoff exceeded the allowed ceiling")
)

// WithRetry runs the callback fn.  Rate limit responses are waited out
// for as long as each wait stays under the ceiling, and do not consume
// retry attempts.  Recoverable server errors and transient network
// errors consume attempts, with cubic and exponential backoff
// respectively.  Authentication failures abort immediately.
func WithRetry(ctx context.Context, lim *rate.Limiter, maxAttempts int, fn func(ctx context.Context) error) error {
	if maxAttempts == 0 {
		maxAttempts = defNumAttempts
	}
	var rlWait time.Duration // grows on consecutive rate limit hits
	for attempt := 0; attempt < maxAttempts; {
		var err error
		trace.WithRegion(ctx, "WithRetry.wait", func() {
			err = lim.Wait(ctx)
		})
		if err != nil {
			return err
		}

		cbErr := fn(ctx)
		if cbErr == nil {
			return nil
		}

		tracelogf(ctx, "error", "WithRetry: %[1]s (%[1]T) after %[2]d attempts", cbErr, attempt+1)
		var (
			ae  *guilded.AuthError
			rle *guilded.RateLimitedError
			sce guilded.StatusCodeError
			ne  *net.OpError
		)
		switch {
		case errors.As(cbErr, &ae):
			// fatal, the caller must obtain a fresh credential.
			return cbErr
		case errors.As(cbErr, &rle):
			wait := rle.RetryAfter
			if rlWait < wait {
				rlWait = wait
			} else {
				rlWait *= 2
			}
			if rlWait > mawt() {
				return fmt.Errorf("%w (last requested wait: %s)", ErrBackoffCeiling, rlWait)
			}
			tracelogf(ctx, "info", "got rate limited, sleeping %s", rlWait)
			if err := sleepCtx(ctx, rlWait); err != nil {
				return err
			}
			continue // not counted as an attempt
		case errors.As(cbErr, &sce):
			if isRecoverable(sce.Code) {
				delay := waitFn(attempt)
				tracelogf(ctx, "info", "got server error %d, sleeping %s", sce.Code, delay)
				if err := sleepCtx(ctx, delay); err != nil {
					return err
				}
				attempt++
				continue
			}
			return fmt.Errorf("callback error: %w", cbErr)
		case errors.As(cbErr, &ne):
			if ne.Op == "read" || ne.Op == "write" {
				delay := netWaitFn(attempt)
				tracelogf(ctx, "info", "got network error %s, sleeping %s", ne.Op, delay)
				if err := sleepCtx(ctx, delay); err != nil {
					return err
				}
				attempt++
				continue
			}
			return fmt.Errorf("callback error: %w", cbErr)
		default:
			return fmt.Errorf("callback error: %w", cbErr)
		}
	}
	return ErrRetryFailed
}

// isRecoverable returns true if the status code is a recoverable server
// error.
func isRecoverable(statusCode int) bool {
	return (statusCode >= http.StatusInternalServerError && statusCode <= 599 && statusCode != 501) || statusCode == http.StatusRequestTimeout
}

// cubicWait is the wait time function for server errors.  Time is
// calculated as (x+2)^3 seconds, where x is the current attempt number,
// capped at maxAllowedWaitTime.
func cubicWait(attempt int) time.Duration {
	x := attempt + 2 // ensures we sleep at least 8 seconds
	delay := time.Duration(x*x*x) * time.Second
	return min(delay, mawt())
}

func expWait(attempt int) time.Duration {
	delay := time.Duration(2<<uint(attempt)) * time.Second
	return min(delay, mawt())
}

// sleepCtx sleeps for d, or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}

func mawt() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return maxAllowedWaitTime
}

func tracelogf(ctx context.Context, category string, format string, a ...any) {
	trace.Logf(ctx, category, format, a...)
	slog.DebugContext(ctx, fmt.Sprintf(format, a...))
}

// SetMaxAllowedWaitTime sets the backoff ceiling.
func SetMaxAllowedWaitTime(d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	maxAllowedWaitTime = d
}
