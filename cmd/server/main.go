// Command server runs the document question-answering API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"metro-docs-rag/internal/config"
	"metro-docs-rag/internal/embedding"
	"metro-docs-rag/internal/llm"
	"metro-docs-rag/internal/logger"
	"metro-docs-rag/internal/metrics"
	"metro-docs-rag/internal/models"
	"metro-docs-rag/internal/rag"
	"metro-docs-rag/internal/reports"
	"metro-docs-rag/internal/server"
	"metro-docs-rag/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, cfg.DatabaseURL, cfg.EmbeddingDim, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	embedder, err := embedding.NewOllamaEmbedder(cfg.OllamaHost, cfg.EmbeddingModel, cfg.EmbeddingDim)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	generator, err := llm.NewOllamaGenerator(cfg.OllamaHost, cfg.GenerationModel)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	orchestrator := rag.New(embedder, db, generator, log).WithMetrics(m)
	reporter := reports.New(orchestrator, log)
	roles := models.NewRoleRegistry(cfg.ExtraRoles...)
	api := server.New(orchestrator, reporter, roles, m, registry, log)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}
