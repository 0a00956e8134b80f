package openai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/resilience"
)

type fakeEmbedder struct {
	vec   []float32
	err   error
	texts []string
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.texts = append(f.texts, texts...)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	return f.vec, f.err
}

func TestEmbedQueryReturnsVector(t *testing.T) {
	inner := &fakeEmbedder{vec: []float32{0.5, 0.5}}
	e := NewWithEmbedder(inner, "text-embedding-3-small")

	vec, err := e.EmbedQuery(context.Background(), "hip replacement")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(vec) != 2 || inner.texts[0] != "hip replacement" {
		t.Fatalf("unexpected result %v for %v", vec, inner.texts)
	}
	if e.Model() != "openai/text-embedding-3-small" {
		t.Fatalf("unexpected model id %s", e.Model())
	}
}

func TestEmbedQueryWrapsProviderErrors(t *testing.T) {
	e := NewWithEmbedder(&fakeEmbedder{err: errors.New("401 unauthorized")}, "m")
	if _, err := e.EmbedQuery(context.Background(), "x"); !domain.IsKind(err, domain.ErrEmbeddingProvider) {
		t.Fatalf("expected ErrEmbeddingProvider, got %v", err)
	}

	e = NewWithEmbedder(&fakeEmbedder{}, "m")
	if _, err := e.EmbedQuery(context.Background(), "x"); !domain.IsKind(err, domain.ErrEmbeddingProvider) {
		t.Fatalf("expected empty vector to be a provider error, got %v", err)
	}
}

func TestEmbedQueryPassesTimeoutsThrough(t *testing.T) {
	e := NewWithEmbedder(&fakeEmbedder{err: context.DeadlineExceeded}, "m")
	_, err := e.EmbedQuery(context.Background(), "x")
	if !errors.Is(err, context.DeadlineExceeded) || domain.IsKind(err, domain.ErrEmbeddingProvider) {
		t.Fatalf("expected bare deadline error, got %v", err)
	}
}

func TestNewRequiresModel(t *testing.T) {
	if _, err := New(Config{BaseURL: "http://localhost:8080/v1"}); err == nil {
		t.Fatalf("expected missing model error")
	}
}

func retryingExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
	})
}

func TestEmbedQueryDoesNotRetryRejectedRequests(t *testing.T) {
	inner := &fakeEmbedder{err: errors.New("API returned unexpected status code: 401: invalid api key")}
	e := NewWithEmbedder(inner, "m", WithExecutor(retryingExecutor()))

	_, err := e.EmbedQuery(context.Background(), "x")
	if !domain.IsKind(err, domain.ErrEmbeddingProvider) || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent provider error, got %v", err)
	}
	if len(inner.texts) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(inner.texts))
	}
}

func TestEmbedQueryRetriesThrottling(t *testing.T) {
	inner := &fakeEmbedder{err: errors.New("API returned unexpected status code: 429: rate limited")}
	e := NewWithEmbedder(inner, "m", WithExecutor(retryingExecutor()))

	_, err := e.EmbedQuery(context.Background(), "x")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary provider error, got %v", err)
	}
	if len(inner.texts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(inner.texts))
	}
}

func TestClassifyOpenAIError(t *testing.T) {
	cases := []struct {
		err       error
		retryable bool
		record    bool
	}{
		{errors.New("API returned unexpected status code: 400: bad input"), false, false},
		{errors.New("API returned unexpected status code: 404: model not found"), false, false},
		{errors.New("API returned unexpected status code: 503"), true, true},
		{context.Canceled, false, false},
		{errors.New("malformed response"), false, true},
	}
	for _, tc := range cases {
		got := classifyOpenAIError(tc.err)
		if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
			t.Fatalf("classifyOpenAIError(%v) = %+v", tc.err, got)
		}
	}
}
