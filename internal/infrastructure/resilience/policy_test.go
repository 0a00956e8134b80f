package resilience

import (
	"testing"
	"time"
)

func TestRetryBudgetFollowsBackoffSchedule(t *testing.T) {
	cfg := Config{
		RetryMaxAttempts:    4,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     300 * time.Millisecond,
		RetryMultiplier:     2,
	}
	// 100ms + 200ms + 300ms (capped)
	if got := cfg.RetryBudget(); got != 600*time.Millisecond {
		t.Fatalf("RetryBudget() = %s, want 600ms", got)
	}
	if got := StoreConfig(cfg).RetryBudget(); got != 0 {
		t.Fatalf("store RetryBudget() = %s, want 0", got)
	}
}

func TestEmbeddingConfigTrimsAttemptsToBudget(t *testing.T) {
	cfg := Config{
		RetryMaxAttempts:    6,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     100 * time.Millisecond,
		RetryMultiplier:     2,
	}

	got := EmbeddingConfig(cfg, 250*time.Millisecond)
	if got.RetryMaxAttempts != 3 {
		t.Fatalf("RetryMaxAttempts = %d, want 3", got.RetryMaxAttempts)
	}

	got = EmbeddingConfig(cfg, 50*time.Millisecond)
	if got.RetryMaxAttempts != 1 {
		t.Fatalf("RetryMaxAttempts = %d, want 1", got.RetryMaxAttempts)
	}

	got = EmbeddingConfig(cfg, 0)
	if got.RetryMaxAttempts != 6 {
		t.Fatalf("unbounded RetryMaxAttempts = %d, want 6", got.RetryMaxAttempts)
	}
}

func TestNormalizeFillsZeroValues(t *testing.T) {
	got := Config{RetryInitialBackoff: time.Second}.normalize()
	def := DefaultConfig()
	if got.RetryMaxAttempts != def.RetryMaxAttempts || got.BreakerMinRequests != def.BreakerMinRequests {
		t.Fatalf("normalize() = %+v", got)
	}
	if got.RetryMaxBackoff != time.Second {
		t.Fatalf("RetryMaxBackoff = %s, want it raised to the initial backoff", got.RetryMaxBackoff)
	}
}
