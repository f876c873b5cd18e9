package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/app"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"languages", cfg.Index.Languages,
		"cross_lingual", cfg.Index.CrossLingual,
		"embedding_provider", cfg.Embedding.Provider,
	)

	if err := run(cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if res, built, err := a.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("initial index build: %w", err)
	} else if built {
		slog.Info("index built from catalog", "indexed", res.Indexed, "failed", res.Failed, "took", res.Took)
	}

	if cfg.Kafka.Enabled {
		applier := consumer.NewApplier(a.Catalog, a.Builder, a.Engine, a.Metrics)
		events := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.OccupationEvents, applier.Handler())
		go func() {
			if err := events.Start(ctx); err != nil {
				slog.Error("change stream consumer error", "error", err)
			}
		}()
		defer events.Close()
		slog.Info("following catalog changes",
			"topic", cfg.Kafka.Topics.OccupationEvents,
			"group", cfg.Kafka.ConsumerGroup,
		)
	}

	checker := a.Health()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, a.Registry, map[string]http.Handler{
			"/health/live":  checker.LiveHandler(),
			"/health/ready": checker.ReadyHandler(),
		})
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = shutdownMetrics(sctx)
		}()
	}

	mux := http.NewServeMux()
	handler.New(a.Service, a.Catalog).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: middleware.Chain(mux,
			middleware.RequestID,
			middleware.Timeout(cfg.Server.WriteTimeout),
			middleware.Metrics(a.Metrics),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
