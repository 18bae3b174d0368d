package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookrag/internal/apperr"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxJitter: time.Millisecond}
}

func TestRetry_SucceedsAfterRateLimit(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastRetry()
	cfg.OnRetry = func(attempt int, err error) { retried = append(retried, attempt) }

	err := Retry(context.Background(), "embed", cfg, func() error {
		calls++
		if calls < 3 {
			return apperr.RateLimited("embed", errors.New("429"))
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry() unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(retried) != 2 {
		t.Errorf("OnRetry called %d times, want 2", len(retried))
	}
}

func TestRetry_NonRateLimitNotRetried(t *testing.T) {
	calls := 0
	boom := apperr.Dependency("embed", errors.New("status 500"))

	err := Retry(context.Background(), "embed", fastRetry(), func() error {
		calls++
		return boom
	})

	if !errors.Is(err, boom) {
		t.Errorf("Retry() error = %v, want %v", err, boom)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "embed", fastRetry(), func() error {
		calls++
		return apperr.RateLimited("embed", errors.New("429"))
	})

	if !apperr.IsRateLimited(err) {
		t.Errorf("Retry() error = %v, want rate-limited", err)
	}
	if calls != 5 {
		t.Errorf("calls = %d, want 5", calls)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour}

	calls := 0
	err := Retry(ctx, "embed", cfg, func() error {
		calls++
		cancel()
		return apperr.RateLimited("embed", errors.New("429"))
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBackoff(t *testing.T) {
	cfg := DefaultRetryConfig()
	for attempt := 1; attempt <= 4; attempt++ {
		base := time.Second << (attempt - 1)
		got := backoff(attempt, cfg)
		if got < base || got >= base+cfg.MaxJitter {
			t.Errorf("backoff(%d) = %v, want in [%v, %v)", attempt, got, base, base+cfg.MaxJitter)
		}
	}
}
