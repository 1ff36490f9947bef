package internal

import (
	"context"
	"fmt"
	"time"
)

// ActionTimeoutTaskCallback represents a callback function that performs a task with a cancellation context
type ActionTimeoutTaskCallback[T any] func(ctx context.Context) (T, error)

// ActionOnTimeOutRetry represents a callback function invoked on retry after a timeout or error
type ActionOnTimeOutRetry func(retryAttemptCount, retryAttemptTotal int, timeout time.Duration)

// DefaultTimeout is the default per-attempt timeout
const DefaultTimeout = 20 * time.Second

// DefaultRetryAttempt is the default number of retry attempts
const DefaultRetryAttempt = 10

// RetryPolicy controls WaitForRetry. Zero fields fall back to the defaults above.
// Attempts < 0 retries until the parent context ends.
type RetryPolicy struct {
	Timeout     time.Duration
	TimeoutStep time.Duration
	Attempts    int
	Backoff     time.Duration
	OnRetry     ActionOnTimeOutRetry
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.Attempts == 0 {
		p.Attempts = DefaultRetryAttempt
	}
	return p
}

func (p RetryPolicy) attemptLabel(attempt int) string {
	if p.Attempts < 0 {
		return fmt.Sprintf("%d", attempt)
	}
	return fmt.Sprintf("%d/%d", attempt, p.Attempts)
}

// WaitForRetry executes a task with retry logic and timeout handling
func WaitForRetry[T any](ctx context.Context, callback ActionTimeoutTaskCallback[T], policy RetryPolicy) (T, error) {
	var zero T
	policy = policy.withDefaults()

	timeout := policy.Timeout
	var lastError error

	for attempt := 1; policy.Attempts < 0 || attempt <= policy.Attempts; attempt++ {
		result, err := runAttempt(ctx, callback, timeout)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		lastError = err
		PushLogWarning(nil, TagWorkshop, fmt.Sprintf("The operation has failed! Retry attempt %s: %v", policy.attemptLabel(attempt), err))

		if policy.OnRetry != nil {
			policy.OnRetry(attempt, policy.Attempts, timeout)
		}
		timeout += policy.TimeoutStep

		if policy.Backoff > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(policy.Backoff):
			}
		}
	}

	return zero, fmt.Errorf("the operation has failed after %d attempts: %w", policy.Attempts, lastError)
}

func runAttempt[T any](ctx context.Context, callback ActionTimeoutTaskCallback[T], timeout time.Duration) (T, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := callback(timeoutCtx)
	if err != nil && timeoutCtx.Err() != nil && ctx.Err() == nil {
		return result, fmt.Errorf("operation timed out: %w", err)
	}
	return result, err
}
