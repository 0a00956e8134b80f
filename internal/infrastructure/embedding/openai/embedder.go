package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Embedder embeds queries through an OpenAI-compatible embeddings API.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Option func(*Embedder)

func WithExecutor(executor *resilience.Executor) Option {
	return func(e *Embedder) { e.executor = executor }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Embedder) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func New(cfg Config, opts ...Option) (*Embedder, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("openai embedder: model is required")
	}
	token := cfg.APIKey
	if token == "" {
		// Local OpenAI-compatible servers accept any token.
		token = "none"
	}
	clientOpts := []lcopenai.Option{
		lcopenai.WithToken(token),
		lcopenai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, lcopenai.WithBaseURL(cfg.BaseURL))
	}
	client, err := lcopenai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	inner, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	return NewWithEmbedder(inner, cfg.Model, opts...), nil
}

func NewWithEmbedder(inner embeddings.Embedder, model string, opts ...Option) *Embedder {
	e := &Embedder{
		embedder: inner,
		model:    model,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Embedder) Model() string {
	return "openai/" + e.model
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := e.execute(ctx, func(ctx context.Context) error {
		var err error
		vec, err = e.embedder.EmbedQuery(ctx, text)
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("openai embed: %w", err)
		}
		e.logger.Error("embedding_failed", "model", e.model, "error", err)
		if classifyOpenAIError(err).Retryable || resilience.IsCircuitOpen(err) {
			err = domain.WrapError(domain.ErrTemporary, "openai embed", err)
		}
		return nil, domain.WrapError(domain.ErrEmbeddingProvider, "openai embed", err)
	}
	if len(vec) == 0 {
		return nil, domain.WrapError(domain.ErrEmbeddingProvider, "openai embed", fmt.Errorf("empty embedding result"))
	}
	return vec, nil
}

func (e *Embedder) execute(ctx context.Context, fn func(context.Context) error) error {
	if e.executor == nil {
		return fn(ctx)
	}
	return e.executor.Execute(ctx, "openai.embed", fn, classifyOpenAIError)
}
