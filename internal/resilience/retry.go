package resilience

import (
	"context"
	"math"
	"time"
)

// RetryConfig controls retry behavior with deterministic exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// BaseDelay is the delay the backoff grows from. Zero disables waiting.
	BaseDelay time.Duration

	// Multiplier scales BaseDelay per attempt. Default: 2.0.
	Multiplier float64

	// OnRetry is called before each retry wait with the upcoming attempt
	// number and the previous error.
	OnRetry func(attempt int, err error)

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Backoff returns base × multiplier^exp. It never compounds on a previous
// wait, so the k-th retry always waits the same amount for a given config.
func Backoff(base time.Duration, multiplier float64, exp int) time.Duration {
	if base <= 0 {
		return 0
	}
	if exp < 0 {
		exp = 0
	}
	return time.Duration(float64(base) * math.Pow(multiplier, float64(exp)))
}

// DoVal runs fn until it succeeds or cfg.MaxAttempts is reached, retrying
// every failure. Before attempt k (k>1) it waits BaseDelay ×
// Multiplier^(k-1). When fn fails with a rate-limit error and attempts
// remain, it additionally waits BaseDelay × Multiplier^k before the next
// iteration. Context cancellation stops retries immediately and returns the
// last error from fn.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	var zero T
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, lastErr)
			}
			if err := cfg.Sleep(ctx, cfg.backoff(attempt-1)); err != nil {
				return zero, lastErr
			}
		}

		val, err := fn(ctx, attempt)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}

		if IsRateLimited(lastErr) && attempt < cfg.MaxAttempts {
			if err := cfg.Sleep(ctx, cfg.backoff(attempt)); err != nil {
				return zero, lastErr
			}
		}
	}

	return zero, lastErr
}

func (cfg RetryConfig) backoff(exp int) time.Duration {
	return Backoff(cfg.BaseDelay, cfg.Multiplier, exp)
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Sleep == nil {
		cfg.Sleep = Sleep
	}
	return cfg
}

// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
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
