// Package retry provides a bounded retry combinator for network operations.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Default policy values.
const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 1 * time.Second
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int
	// Delay is the wait before the second attempt.
	Delay time.Duration
	// BackoffMult multiplies the delay after each attempt. 0 or 1 means fixed delay.
	BackoffMult float64
	// MaxDelay caps the delay when backoff is used. 0 means no cap.
	MaxDelay time.Duration
	// ShouldRetry classifies errors. nil retries every error.
	ShouldRetry func(err error) bool
}

// Fixed returns a fixed-delay policy.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay}
}

// DefaultPolicy returns the fixed 3 x 1s policy used for wallet and RPC calls.
func DefaultPolicy() Policy {
	return Fixed(DefaultMaxAttempts, DefaultDelay)
}

// WithClassifier returns a copy of p using fn to decide which errors are retried.
func (p Policy) WithClassifier(fn func(err error) bool) Policy {
	p.ShouldRetry = fn
	return p
}

// ExhaustedError is returned when every attempt failed with a retriable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retries exceeded after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs fn until it succeeds, returns a non-retriable error, the policy is
// exhausted or ctx is done. Non-retriable errors are returned unwrapped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.Delay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			if p.BackoffMult > 1 {
				delay = time.Duration(float64(delay) * p.BackoffMult)
				if p.MaxDelay > 0 && delay > p.MaxDelay {
					delay = p.MaxDelay
				}
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func(ctx context.Context, attempt int) error {
		v, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
