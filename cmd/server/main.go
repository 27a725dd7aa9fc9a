package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/feedpulse/feedpulse/internal/aggregator"
	"github.com/feedpulse/feedpulse/internal/api"
	"github.com/feedpulse/feedpulse/internal/auth"
	"github.com/feedpulse/feedpulse/internal/cache"
	"github.com/feedpulse/feedpulse/internal/config"
	"github.com/feedpulse/feedpulse/internal/enrichment"
	"github.com/feedpulse/feedpulse/internal/ingestion"
	"github.com/feedpulse/feedpulse/internal/logging"
	"github.com/feedpulse/feedpulse/internal/metrics"
	"github.com/feedpulse/feedpulse/internal/scheduler"
	"github.com/feedpulse/feedpulse/internal/scoring"
	"github.com/feedpulse/feedpulse/internal/server"
	"github.com/feedpulse/feedpulse/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting feedpulse", "mode", cfg.Mode)

	// Durable store: Postgres when configured, in-memory otherwise.
	var itemStore store.Store
	if cfg.Database.URL != "" {
		logger.Info("connecting to database")
		db, err := store.Connect(context.Background(), cfg.Database.URL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pg := store.NewPostgresStore(db)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		itemStore = pg
		logger.Info("database connected")
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		itemStore = store.NewMemoryStore()
	}

	// Source and profile catalog, hot-reloaded on file change.
	loader, err := config.NewLoader(cfg.CatalogPath, logger)
	if err != nil {
		logger.Error("failed to load catalog", "path", cfg.CatalogPath, "error", err)
		os.Exit(1)
	}
	watchStop := make(chan struct{})
	go func() {
		if err := loader.Watch(watchStop); err != nil {
			logger.Error("catalog watch failed", "error", err)
		}
	}()

	collector, err := metrics.NewCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}

	// AI provider is optional: without credentials the service still
	// aggregates, it just never enriches.
	var enricher *enrichment.Enricher
	provider, err := enrichment.NewDefaultProvider(cfg.Providers, logger)
	if err != nil {
		logger.Warn("no AI provider configured, enrichment disabled", "error", err)
	} else {
		logger.Info("AI provider configured", "provider", provider.Name())
		enricher = enrichment.New(provider, enrichment.Options{
			Concurrency: cfg.Pipeline.EnrichConcurrency,
			RatePerSec:  cfg.Pipeline.EnrichRatePerSec,
			ItemTimeout: cfg.Pipeline.EnrichTimeout,
		}, logger)
	}

	resultCache := cache.New(cfg.Cache.TTL, cfg.Cache.QuotaLimit, collector)

	httpClient := &http.Client{Timeout: cfg.Pipeline.FetchTimeout}
	registry := ingestion.NewRegistry(ingestion.RegistryDeps{
		HTTPClient:  httpClient,
		GitHubToken: cfg.Providers.GitHubToken,
		Store:       itemStore,
	})

	scorer := scoring.NewScorer()

	agg := aggregator.New(aggregator.Deps{
		Loader:   loader,
		Registry: registry,
		Scorer:   scorer,
		Enricher: enricher,
		Cache:    resultCache,
		Store:    itemStore,
		Metrics:  collector,
		Logger:   logger,
		Pipeline: cfg.Pipeline,
	})

	tracker := api.NewTracker(itemStore, 256, collector, logger)
	tracker.Start()
	defer tracker.Stop()

	authConfig, err := auth.LoadConfigFromEnv()
	if err != nil {
		logger.Error("failed to load auth config", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(api.HandlerDeps{
		Aggregator: agg,
		Loader:     loader,
		Store:      itemStore,
		Cache:      resultCache,
		Scorer:     scorer,
		Enricher:   enricher,
		Extractor:  api.NewMetadataExtractor(&http.Client{Timeout: 15 * time.Second}),
		Tracker:    tracker,
		Logger:     logger,
	})

	mux := http.NewServeMux()
	api.SetupRoutes(mux, handler, authConfig)
	mux.Handle("/metrics", collector.Handler())

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(cfg.Scheduler.CronSpec, agg, loader, logger)
		if err != nil {
			logger.Error("failed to init scheduler", "spec", cfg.Scheduler.CronSpec, "error", err)
			os.Exit(1)
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := server.New(cfg.Server, logger, collector.InstrumentHandler(mux))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	case sig := <-quit:
		logger.Info("received signal", "signal", sig)
	}

	close(watchStop)
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("feedpulse stopped")
}
