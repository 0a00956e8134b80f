package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

func TestLoadIncludesRetrievalDefaults(t *testing.T) {
	t.Setenv("RETRIEVAL_DEFAULT_LIMIT", "")
	t.Setenv("RETRIEVAL_TIMEOUT", "")
	t.Setenv("FUSION_WEIGHT_STRUCTURED", "")
	t.Setenv("STRUCTURED_DRIVER", "")

	cfg := Load()
	if cfg.RetrievalDefaultLimit != 10 || cfg.RetrievalMaxLimit != 100 {
		t.Fatalf("unexpected limits %d/%d", cfg.RetrievalDefaultLimit, cfg.RetrievalMaxLimit)
	}
	if cfg.RetrievalTimeout != 5*time.Second {
		t.Fatalf("expected default timeout 5s, got %v", cfg.RetrievalTimeout)
	}
	if cfg.StructuredDriver != "postgres" {
		t.Fatalf("expected postgres driver by default, got %q", cfg.StructuredDriver)
	}
	if cfg.FusionWeights() != domain.DefaultWeights() {
		t.Fatalf("expected default weights, got %+v", cfg.FusionWeights())
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("RETRIEVAL_TIMEOUT", "750ms")
	t.Setenv("EMBED_CACHE_TTL", "60")
	t.Setenv("FUSION_WEIGHT_SEMANTIC", "0.25")
	t.Setenv("EMBED_RATE_PER_SEC", "not-a-number")
	t.Setenv("DIAGNOSTICS_ENABLED", "false")

	cfg := Load()
	if cfg.RetrievalTimeout != 750*time.Millisecond {
		t.Fatalf("expected 750ms timeout, got %v", cfg.RetrievalTimeout)
	}
	if cfg.EmbedCacheTTL != time.Minute {
		t.Fatalf("expected whole seconds to parse, got %v", cfg.EmbedCacheTTL)
	}
	if cfg.FusionWeightSemantic != 0.25 {
		t.Fatalf("expected semantic weight override, got %v", cfg.FusionWeightSemantic)
	}
	if cfg.EmbedRatePerSec != 20 {
		t.Fatalf("expected fallback for invalid float, got %v", cfg.EmbedRatePerSec)
	}
	if cfg.DiagnosticsEnabled {
		t.Fatalf("expected diagnostics disabled")
	}
}

func TestResiliencePolicies(t *testing.T) {
	t.Setenv("EMBED_RETRY_MAX_ATTEMPTS", "4")
	t.Setenv("BREAKER_MIN_REQUESTS", "3")

	cfg := Load()
	if got := cfg.StoreResilience(); got.RetryMaxAttempts != 1 || got.BreakerMinRequests != 3 {
		t.Fatalf("store policy must not retry, got %+v", got)
	}
	if got := cfg.EmbedResilience(); got.RetryMaxAttempts != 4 {
		t.Fatalf("expected embed retries from env, got %+v", got)
	}
}

func TestEmbedResilienceFitsRetrievalDeadline(t *testing.T) {
	t.Setenv("RETRIEVAL_TIMEOUT", "1s")
	t.Setenv("EMBED_RETRY_MAX_ATTEMPTS", "10")
	t.Setenv("EMBED_RETRY_INITIAL_BACKOFF", "200ms")
	t.Setenv("EMBED_RETRY_MAX_BACKOFF", "200ms")

	got := Load().EmbedResilience()
	if got.RetryBudget() >= 500*time.Millisecond {
		t.Fatalf("retry budget %s exceeds half the deadline", got.RetryBudget())
	}
	if got.RetryMaxAttempts != 3 {
		t.Fatalf("RetryMaxAttempts = %d, want 3", got.RetryMaxAttempts)
	}
}

func TestLoadCatalogDefault(t *testing.T) {
	catalog, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	if len(catalog.Sources()) != len(domain.DefaultSources()) {
		t.Fatalf("expected built-in catalog")
	}
}

func TestLoadCatalogFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	raw := `
sources:
  - name: adp_device
    aliases: [assistive_device]
    key_field: device_code
    upper_key: true
    table: adp_devices
    title_column: device_name
    text_columns: [device_name, description]
    number_columns: [max_price]
    filter_columns: [category]
    collection: adp_documents
    metric: l2
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	spec, ok := catalog.Lookup("assistive_device")
	if !ok || spec.Metric != domain.MetricL2 || !spec.UpperKey || spec.SequenceField != "chunk_index" {
		t.Fatalf("unexpected spec %+v", spec)
	}
}

func TestParseCatalogRejectsInvalid(t *testing.T) {
	if _, err := ParseCatalog([]byte("sources: [{name: x}]")); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := ParseCatalog([]byte("sources: {")); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestLoadTrafficControl(t *testing.T) {
	t.Setenv("API_RATE_LIMIT_RPS", "")
	t.Setenv("API_MAX_INFLIGHT", "8")
	t.Setenv("API_BACKPRESSURE_WAIT", "1")
	t.Setenv("API_MAX_CONNS", "0")

	cfg := Load()
	if cfg.APIRateLimitRPS != 0 {
		t.Fatalf("expected rate limit disabled by default, got %v", cfg.APIRateLimitRPS)
	}
	if cfg.APIMaxInFlight != 8 || cfg.APIBackpressureWait != time.Second {
		t.Fatalf("unexpected backpressure settings %d/%v", cfg.APIMaxInFlight, cfg.APIBackpressureWait)
	}
	if cfg.APIMaxConns != 0 {
		t.Fatalf("expected connection cap disabled, got %d", cfg.APIMaxConns)
	}
}
