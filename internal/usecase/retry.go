package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
)

// RetryPolicy bounds the retry loop shared by the generation, deployment and
// readiness-probe phases.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the pause before the given attempt (1-based). The schedule is
// attempt × BaseDelay, capped at MaxDelay; there is no pause before the first
// attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := time.Duration(attempt-1) * p.BaseDelay
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// sleepFn pauses until the delay elapses or the context is done. Overridable
// in tests.
var sleepFn = func(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// httpStatusCoder is satisfied by the integrations' HTTPStatusError types.
type httpStatusCoder interface {
	HTTPStatusCode() int
}

// isTransient classifies an error as worth retrying. Per-phase timeouts show
// up as context.DeadlineExceeded from the phase context, which is retryable;
// cancellation of the parent context is not.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatusCode()
		return code == 429 || code >= 500
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "temporary")
}

// isTimeout reports whether a failure was deadline-driven, which decides the
// timeout-vs-failed terminal status of the build.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "timeout")
}

// withRetry runs op under the policy, retrying transient failures with the
// policy's backoff. Each attempt gets a fresh child context bounded by
// perAttempt (when > 0). It returns the result, the number of attempts made,
// and the last error once the budget is exhausted or a terminal error occurs.
func withRetry[T any](ctx context.Context, policy RetryPolicy, perAttempt time.Duration, op func(context.Context) (T, error)) (T, int, error) {
	var zero T
	var lastErr error

	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			sleepFn(ctx, policy.Delay(attempt))
		}
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return zero, attempt - 1, lastErr
		}

		attemptCtx := ctx
		cancel := func() {}
		if perAttempt > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, perAttempt)
		}
		out, err := op(attemptCtx)
		cancel()
		if err == nil {
			return out, attempt, nil
		}
		lastErr = err
		if !isTransient(err) {
			return zero, attempt, err
		}
	}
	return zero, attempts, lastErr
}
