package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/config"
	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
	"github.com/kirillkom/hybrid-retrieval/internal/core/usecase"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/embedding"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/embedding/ollama"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/embedding/openai"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/queue/nats"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/repository/relational"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/resilience"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/hybrid-retrieval/internal/observability/metrics"
)

const startupPingTimeout = 5 * time.Second

// HealthCheck is a named readiness probe.
type HealthCheck struct {
	Name    string
	Checker ports.HealthChecker
}

// App owns every store handle of a retrieval process. Handles are opened
// in New and released in reverse order by Close.
type App struct {
	Config  config.Config
	Catalog *domain.Catalog
	Engine  *usecase.RetrievalEngine
	Metrics *metrics.HTTPServerMetrics
	Checks  []HealthCheck

	logger  *slog.Logger
	closers []func() error
}

func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, logger: logger, Metrics: metrics.NewHTTPServerMetrics(service)}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.Catalog, err = config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	storeExec := resilience.NewExecutor(cfg.StoreResilience(),
		resilience.WithLogger(logger),
		resilience.WithStateObserver(app.Metrics.ObserveBreakerState),
	)
	embedExec := resilience.NewExecutor(cfg.EmbedResilience(),
		resilience.WithLogger(logger),
		resilience.WithStateObserver(app.Metrics.ObserveBreakerState),
	)

	db, dialect, err := relational.Open(cfg.StructuredDriver, structuredDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open structured store: %w", err)
	}
	app.onClose(db.Close)
	store := relational.NewStructuredStore(db, dialect, relational.WithExecutor(storeExec), relational.WithLogger(logger))
	app.Checks = append(app.Checks, HealthCheck{Name: "structured", Checker: store})
	pingStartup(ctx, "structured", store, logger)

	index, err := qdrant.New(cfg.QdrantAddr, qdrant.WithExecutor(storeExec), qdrant.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	app.onClose(index.Close)
	app.Checks = append(app.Checks, HealthCheck{Name: "vector", Checker: index})
	verifyCollections(ctx, index, app.Catalog, logger)

	embedder, err := app.buildEmbedder(cfg, embedExec)
	if err != nil {
		return nil, err
	}

	reassembler, err := usecase.NewReassembler(index, app.Catalog, cfg.RetrievalSiblingLimit, cfg.RetrievalReassemblyWorkers, logger)
	if err != nil {
		return nil, fmt.Errorf("init reassembler: %w", err)
	}
	app.onClose(func() error {
		reassembler.Close()
		return nil
	})

	options := []usecase.EngineOption{
		usecase.WithLogger(logger),
		usecase.WithObserver(app.Metrics),
	}
	if publisher := app.openPublisher(cfg, storeExec); publisher != nil {
		options = append(options, usecase.WithDiagnosticsPublisher(publisher))
	}

	app.Engine = usecase.NewRetrievalEngine(
		usecase.NewStructuredRetriever(store, app.Catalog, cfg.RetrievalStructuredCandidates, logger),
		usecase.NewSemanticRetriever(index, embedder, app.Catalog, cfg.RetrievalSemanticTopK, logger),
		reassembler,
		app.Catalog,
		usecase.EngineOptions{
			DefaultLimit: cfg.RetrievalDefaultLimit,
			MaxLimit:     cfg.RetrievalMaxLimit,
			Timeout:      cfg.RetrievalTimeout,
			Weights:      cfg.FusionWeights(),
		},
		options...,
	)
	return app, nil
}

func structuredDSN(cfg config.Config) string {
	if cfg.StructuredDriver == "sqlite" {
		return cfg.SQLitePath
	}
	return cfg.PostgresDSN
}

// pingStartup reports an unreachable backend without failing startup.
// Requests degrade to the other source until it comes back.
func pingStartup(ctx context.Context, name string, checker ports.HealthChecker, logger *slog.Logger) {
	pctx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()
	if err := checker.Ping(pctx); err != nil {
		logger.Warn("backend_unreachable_at_startup", "backend", name, "error", err)
	}
}

func verifyCollections(ctx context.Context, index *qdrant.Index, catalog *domain.Catalog, logger *slog.Logger) {
	findings, err := index.VerifyCollections(ctx, catalog.Collections(catalog.Sources()))
	if err != nil {
		logger.Warn("collection_verification_skipped", "error", err)
		return
	}
	if len(findings) > 0 {
		logger.Warn("collection_verification_findings", "findings", findings)
	}
}

func (a *App) buildEmbedder(cfg config.Config, exec *resilience.Executor) (ports.Embedder, error) {
	var (
		provider ports.Embedder
		model    string
	)
	switch cfg.EmbeddingProvider {
	case "openai":
		e, err := openai.New(openai.Config{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIEmbedModel,
		}, openai.WithExecutor(exec), openai.WithLogger(a.logger))
		if err != nil {
			return nil, fmt.Errorf("init embedder: %w", err)
		}
		provider, model = e, e.Model()
	case "ollama", "":
		client := ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel, ollama.WithExecutor(exec), ollama.WithLogger(a.logger))
		e := ollama.NewEmbedder(client)
		provider, model = e, e.Model()
		a.Checks = append(a.Checks, HealthCheck{Name: "embedder", Checker: client})
	default:
		return nil, fmt.Errorf("init embedder: unknown provider %q", cfg.EmbeddingProvider)
	}

	provider = embedding.NewRateLimitedEmbedder(provider, cfg.EmbedRatePerSec, cfg.EmbedRateBurst)
	if !cfg.EmbedCacheEnabled {
		return provider, nil
	}
	cache, err := embedding.OpenCacheStore(cfg.EmbedCachePath, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	a.onClose(cache.Close)
	return embedding.NewCachedEmbedder(provider, cache, model, cfg.EmbedCacheTTL, a.logger), nil
}

// openPublisher connects the diagnostics publisher. A NATS outage at
// startup disables diagnostics instead of failing the process.
func (a *App) openPublisher(cfg config.Config, exec *resilience.Executor) ports.DiagnosticsPublisher {
	if !cfg.DiagnosticsEnabled {
		return nil
	}
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSDiagnosticsSubject, nats.Options{
		ResilienceExecutor: exec,
		Logger:             a.logger,
	})
	if err != nil {
		a.logger.Warn("diagnostics_disabled", "error", err)
		return nil
	}
	a.onClose(func() error {
		queue.Close()
		return nil
	})
	a.Checks = append(a.Checks, HealthCheck{Name: "nats", Checker: queue})
	return queue
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown_close_failed", "error", err)
	}
}

// Worker owns the handles of the diagnostics worker.
type Worker struct {
	Config   config.Config
	Queue    ports.DiagnosticsSubscriber
	Recorder *usecase.DiagnosticsRecorder
	Repo     *relational.DiagnosticsRepository
	Metrics  *metrics.WorkerMetrics

	closeFn func()
}

func NewWorker(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := relational.OpenPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := relational.NewDiagnosticsRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSDiagnosticsSubject, nats.Options{Logger: logger})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	return &Worker{
		Config:   cfg,
		Queue:    queue,
		Recorder: usecase.NewDiagnosticsRecorder(repo, logger),
		Repo:     repo,
		Metrics:  metrics.NewWorkerMetrics("retrieval-worker"),
		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (w *Worker) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}
