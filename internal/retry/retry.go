// Package retry runs a call again on transient failure with capped
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds how often and how fast a call is repeated. A zero Policy
// makes exactly one attempt.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is the randomization factor in [0,1).
	Jitter float64
	// Retryable decides whether err is transient. nil retries nothing.
	Retryable func(err error) bool
	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// ExhaustedError is returned when every attempt failed transiently.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (p Policy) backOff() backoff.BackOff {
	if p.InitialBackoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = max(p.MaxBackoff, p.InitialBackoff)
	b.Multiplier = max(p.Multiplier, 1)
	b.RandomizationFactor = p.Jitter
	return b
}

// Do calls op until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx ends. attempt starts at 1.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	attempts := max(p.MaxAttempts, 1)
	attempt := 0
	var lastErr error

	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx, attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if p.Retryable == nil || !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if p.OnRetry != nil {
				p.OnRetry(attempt, err, wait)
			}
		}),
	)
	if err == nil {
		return res, nil
	}

	switch {
	case lastErr == nil:
		// ctx ended before the first call
		return res, err
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if !errors.Is(lastErr, err) {
			return res, fmt.Errorf("%w (last attempt: %w)", err, lastErr)
		}
		return res, err
	case attempt >= attempts && p.Retryable != nil && p.Retryable(lastErr):
		return res, &ExhaustedError{Attempts: attempt, Err: lastErr}
	default:
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return res, perm.Unwrap()
		}
		return res, err
	}
}
