// Package retry defines bounded retry policies with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// Policy defines retry behavior for a multi-attempt operation.
type Policy struct {
	MaxAttempts       int           // Total attempts including the first one
	InitialDelay      time.Duration // Delay after the first failed attempt
	MaxDelay          time.Duration // Maximum delay between attempts
	BackoffMultiplier float64       // Multiplier for exponential backoff (1.0 = fixed delay)
}

// DefaultPolicy returns the policy used for commits: 3 attempts with backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// FixedPolicy returns a policy waiting the same delay between attempts.
func FixedPolicy(attempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts:       attempts,
		InitialDelay:      delay,
		MaxDelay:          delay,
		BackoffMultiplier: 1.0,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.InitialDelay
	}

	// initialDelay * (multiplier ^ (attempt-1))
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))

	// Compared as float: large attempts overflow int64 or reach +Inf.
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether another attempt is allowed after attempt (1-based).
func (p Policy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// Validate checks if the retry policy configuration is valid.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("MaxAttempts must be at least 1")
	}
	if p.InitialDelay < 0 {
		return errors.New("InitialDelay must not be negative")
	}
	if p.MaxDelay < 0 {
		return errors.New("MaxDelay must not be negative")
	}
	if p.BackoffMultiplier < 1 {
		return errors.New("BackoffMultiplier must be at least 1")
	}
	if p.InitialDelay > p.MaxDelay {
		return errors.New("InitialDelay cannot be greater than MaxDelay")
	}
	return nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
