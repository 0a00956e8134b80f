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

	mcpadapter "github.com/kirillkom/hybrid-retrieval/internal/adapters/mcp"
	"github.com/kirillkom/hybrid-retrieval/internal/bootstrap"
	"github.com/kirillkom/hybrid-retrieval/internal/config"
	"github.com/kirillkom/hybrid-retrieval/internal/observability/logging"
	"github.com/kirillkom/hybrid-retrieval/internal/observability/tracing"
)

const (
	serviceName = "retrieval-mcp"
	version     = "0.1.0"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	// stdout carries the stdio protocol, logs go to stderr.
	logger := logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)
	log.SetOutput(os.Stderr)
	tracing.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	srv := mcpadapter.NewServer(app.Engine, version, logger)

	switch cfg.MCPTransport {
	case "stdio", "":
		if err := srv.ServeStdio(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("mcp stdio error: %v", err)
		}
	case "http":
		serveHTTP(ctx, cfg, srv, app, logger)
	default:
		log.Fatalf("unknown MCP_TRANSPORT %q", cfg.MCPTransport)
	}
}

func serveHTTP(ctx context.Context, cfg config.Config, srv *mcpadapter.Server, app *bootstrap.App, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/mcp", srv.HTTPHandler())
	mux.Handle("/metrics", app.Metrics.Handler())

	server := &http.Server{
		Addr:              cfg.MCPHTTPAddr,
		Handler:           tracing.Middleware(serviceName, app.Metrics.Middleware(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("mcp_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("mcp server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("mcp_shutdown_failed", "error", err)
	}
}
