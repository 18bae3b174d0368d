package llm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"bookrag/internal/apperr"
	"bookrag/internal/contextutil"
)

// RetryConfig controls backoff for rate-limited provider calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration // Doubled after every failed attempt
	MaxJitter   time.Duration // Uniform random delay added to each backoff
	// OnRetry, if set, is called before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig is 5 attempts, 1s base delay, up to 500ms jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxJitter:   500 * time.Millisecond,
	}
}

// Retry runs fn until it succeeds, fails with a non-rate-limit error, or
// MaxAttempts is reached. Only rate-limit failures are retried.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	logger := contextutil.LoggerFromContext(ctx).With("component", "retry", "operation", name)

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.InfoContext(ctx, "succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if !apperr.IsRateLimited(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoff(attempt, cfg)
		logger.WarnContext(ctx, "rate limited, retrying",
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"error", lastErr,
			"next_delay", delay,
		)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted during backoff: %w", ctx.Err())
		}
	}
	return fmt.Errorf("all %d attempts failed for %s: %w", cfg.MaxAttempts, name, lastErr)
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	delay := cfg.BaseDelay << (attempt - 1)
	if cfg.MaxJitter > 0 {
		delay += rand.N(cfg.MaxJitter)
	}
	return delay
}
