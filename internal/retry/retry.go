// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package retry runs an operation under a bounded attempt policy with linear
// or exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy describes how an operation is retried.
//
// Attempt n (1-based) that fails with a retryable error waits
// BaseDelay * n when Multiplier is zero, or BaseDelay * Multiplier^(n-1)
// otherwise, before attempt n+1. No wait follows the last attempt.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first (minimum 1).
	MaxAttempts int

	// BaseDelay scales every backoff wait.
	BaseDelay time.Duration

	// Multiplier selects exponential backoff when greater than zero.
	Multiplier float64

	// Retryable reports whether err warrants another attempt. Nil retries every error.
	Retryable func(err error) bool

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Linear returns a policy waiting attempt*base between attempts.
func Linear(attempts int, base time.Duration) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: base}
}

// Exponential returns a policy doubling the wait after each attempt.
func Exponential(attempts int, base time.Duration) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: base, Multiplier: 2}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if p.Multiplier > 0 {
		return time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	}
	return time.Duration(attempt) * p.BaseDelay
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. Non-retryable errors are returned unchanged;
// exhaustion returns *ExhaustedError wrapping the last failure. A cancelled
// context during a wait returns ctx.Err().
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.Backoff(attempt)); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// Sleep waits for d, returning early with ctx.Err() if ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
