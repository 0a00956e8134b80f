package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirillkom/hybrid-retrieval/internal/bootstrap"
	"github.com/kirillkom/hybrid-retrieval/internal/config"
	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/observability/logging"
	"github.com/kirillkom/hybrid-retrieval/internal/observability/tracing"
)

const storedRefreshInterval = time.Minute

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.NewJSONLogger("retrieval-worker", cfg.LogLevel)
	slog.SetDefault(logger)
	tracing.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := bootstrap.NewWorker(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer w.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", w.Metrics.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	go refreshStored(ctx, w, logger)

	logger.Info("worker_subscribed", "subject", cfg.NATSDiagnosticsSubject)
	err = w.Queue.SubscribeDiagnostics(ctx, func(handlerCtx context.Context, ev domain.DiagnosticEvent) error {
		recordCtx, cancel := context.WithTimeout(handlerCtx, 10*time.Second)
		defer cancel()

		w.Metrics.StartEvent()
		if !ev.OccurredAt.IsZero() {
			w.Metrics.ObserveLag(time.Since(ev.OccurredAt))
		}
		started := time.Now()
		err := w.Recorder.Record(recordCtx, ev)
		w.Metrics.FinishEvent(ev.Kind, time.Since(started), err)
		return err
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}

// refreshStored keeps the stored-diagnostics gauge in line with the table.
func refreshStored(ctx context.Context, w *bootstrap.Worker, logger *slog.Logger) {
	ticker := time.NewTicker(storedRefreshInterval)
	defer ticker.Stop()
	for {
		counts, err := w.Repo.CountByKind(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("diagnostics_count_failed", "error", err)
		} else {
			w.Metrics.SetStored(counts)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
