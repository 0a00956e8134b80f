package resilience

import "time"

// Config describes how a single backend dependency is guarded. Every
// retrieval request touches the relational store, the vector index and the
// embedding model, and each gets its own executor built from one of the
// profiles below.
type Config struct {
	// RetryMaxAttempts counts the first call. 1 disables retries.
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled bool
	// BreakerMinRequests is the sample size a breaker needs before the
	// failure ratio can trip it.
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	// BreakerOpenTimeout is how long a tripped backend is reported as
	// backend_unavailable without being called.
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// DefaultConfig is sized for the default 5s retrieval deadline: the full
// retry schedule sleeps well under a second, and a tripped backend is
// probed again after half a minute.
func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// StoreConfig is the profile for the relational store and the vector index.
// A failed lookup degrades its half of the response instead of being
// retried, so only the breaker stays active.
func StoreConfig(base Config) Config {
	base.RetryMaxAttempts = 1
	return base
}

// EmbeddingConfig is the profile for query embedding. Attempts are trimmed
// until the summed backoff fits in budget, so retries never consume the
// whole retrieval deadline. A non-positive budget leaves attempts as is.
func EmbeddingConfig(base Config, budget time.Duration) Config {
	out := base.normalize()
	if budget <= 0 {
		return out
	}
	for out.RetryMaxAttempts > 1 && out.RetryBudget() >= budget {
		out.RetryMaxAttempts--
	}
	return out
}

// RetryBudget is the total time the executor may sleep between attempts.
func (c Config) RetryBudget() time.Duration {
	c = c.normalize()
	var total time.Duration
	backoff := c.RetryInitialBackoff
	for i := 1; i < c.RetryMaxAttempts; i++ {
		total += min(backoff, c.RetryMaxBackoff)
		backoff = min(time.Duration(float64(backoff)*c.RetryMultiplier), c.RetryMaxBackoff)
	}
	return total
}

func (c Config) normalize() Config {
	def := DefaultConfig()

	c.RetryMaxAttempts = orDefault(c.RetryMaxAttempts, def.RetryMaxAttempts)
	c.RetryInitialBackoff = orDefault(c.RetryInitialBackoff, def.RetryInitialBackoff)
	c.RetryMaxBackoff = max(orDefault(c.RetryMaxBackoff, def.RetryMaxBackoff), c.RetryInitialBackoff)
	if c.RetryMultiplier < 1.0 {
		c.RetryMultiplier = def.RetryMultiplier
	}

	c.BreakerMinRequests = orDefault(c.BreakerMinRequests, def.BreakerMinRequests)
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = def.BreakerFailureRatio
	}
	c.BreakerOpenTimeout = orDefault(c.BreakerOpenTimeout, def.BreakerOpenTimeout)
	c.BreakerHalfOpenMaxCalls = orDefault(c.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)
	return c
}

func orDefault[T int | uint32 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
