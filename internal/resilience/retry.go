// Package resilience hardens calls to the social network's APIs:
// bounded retries with jittered backoff for transient failures, and a
// circuit breaker that stops hammering an endpoint that keeps failing.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	// MaxAttempts counts the first try. 1 means no retries.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry; each further
	// retry multiplies it by Multiplier, capped at MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// JitterFraction spreads each delay by ±fraction so parallel
	// callers do not retry in lockstep.
	JitterFraction float64

	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// RetryConfigFrom builds a RetryConfig from the two knobs the config
// file exposes, filling the rest with defaults.
func RetryConfigFrom(maxAttempts, backoffMs int) RetryConfig {
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if backoffMs > 0 {
		cfg.InitialBackoff = time.Duration(backoffMs) * time.Millisecond
	}
	return cfg
}

// Retry runs fn until it succeeds, fails with a non-transient error,
// or exhausts cfg.MaxAttempts. Only errors IsTransient accepts are
// retried; context cancellation stops the loop immediately.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsTransient(lastErr) {
			return zero, lastErr
		}
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr)
		}

		timer := time.NewTimer(backoffDelay(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

func backoffDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if cfg.MaxBackoff > 0 && delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}
	if cfg.JitterFraction > 0 {
		spread := delay * cfg.JitterFraction
		delay += (rand.Float64()*2 - 1) * spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback logging each attempt under
// the given component and operation names.
func RetryLogger(component, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("component", component),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
