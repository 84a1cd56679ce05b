package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retry behavior with exponential backoff and jitter.
type Policy struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// BaseDelay is the backoff before the first retry. Default: 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff duration. Default: 30s.
	MaxDelay time.Duration

	// Multiplier scales the backoff after each attempt. Default: 2.0.
	Multiplier float64

	// JitterFraction adds random jitter as a fraction of the computed delay
	// (0.0 = no jitter, 0.5 = ±50%). Default: 0.25.
	JitterFraction float64

	// ShouldRetry optionally overrides the default transient-error check.
	// If nil, IsTransient is used.
	ShouldRetry func(err error) bool

	// OnAttempt is called after every attempt, successful or not, with the
	// 1-based attempt number and the attempt's error (nil on success).
	OnAttempt func(attempt int, err error)
}

// DefaultPolicy returns a retry policy suitable for outbound HTTP calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Do executes fn with retries per p. It retries only errors deemed transient
// (via ShouldRetry or the default IsTransient check). Context cancellation
// stops retries immediately.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = withDefaults(p)

	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, lastErr)
		}
		if lastErr == nil {
			return nil
		}

		// Don't retry on context cancellation.
		if ctx.Err() != nil {
			return lastErr
		}

		if !shouldRetry(lastErr) {
			return lastErr
		}

		// Don't sleep after the last attempt.
		if attempt >= p.MaxAttempts {
			break
		}

		timer := time.NewTimer(Backoff(p, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

// DoVal executes fn returning a value with retries. Same semantics as Do but
// preserves the return value from the successful call.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var val T
	err := Do(ctx, p, func(ctx context.Context) error {
		var ferr error
		val, ferr = fn(ctx)
		return ferr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return val, nil
}

// Backoff returns the delay to sleep after the given 1-based failed attempt,
// with jitter applied. Callers that schedule retries externally (rather than
// sleeping inline) use this to compute the next-run time.
func Backoff(p Policy, attempt int) time.Duration {
	p = withDefaults(p)
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.JitterFraction > 0 {
		jitterRange := delay * p.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func withDefaults(p Policy) Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	return p
}

// RetryLogger returns an OnAttempt callback that logs failed attempts.
func RetryLogger(component, operation string) func(int, error) {
	return func(attempt int, err error) {
		if err == nil {
			return
		}
		zap.L().Warn("attempt failed",
			zap.String("component", component),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
