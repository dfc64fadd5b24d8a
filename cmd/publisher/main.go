package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/postpilot-hq/postpilot-backend/internal/content"
	"github.com/postpilot-hq/postpilot-backend/internal/events"
	"github.com/postpilot-hq/postpilot-backend/internal/ledger"
	"github.com/postpilot-hq/postpilot-backend/internal/linkedin"
	"github.com/postpilot-hq/postpilot-backend/internal/pipeline"
	"github.com/postpilot-hq/postpilot-backend/internal/token"
	"github.com/postpilot-hq/postpilot-backend/pkg/config"
	"github.com/postpilot-hq/postpilot-backend/pkg/db"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
	"github.com/postpilot-hq/postpilot-backend/pkg/metrics"
	"github.com/postpilot-hq/postpilot-backend/pkg/migrate"
	"github.com/postpilot-hq/postpilot-backend/pkg/pubsub"
)

const dispatcherDrainGrace = 30 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "publisher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "publisher"

	logg = logger.New(logger.Options{
		ServiceName: "publisher",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	var announcer *events.Announcer
	if cfg.GCP.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		announcer = events.NewAnnouncer(pubsubClient.ContentEventsPublisher(), logg)
	} else {
		logg.Warn(context.Background(), "gcp project not configured, lifecycle events disabled")
	}

	registry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	refresher, err := linkedin.NewRefresher(cfg.LinkedIn, logg, nil)
	if err != nil {
		logg.Error(context.Background(), "failed to create linkedin refresher", err)
		os.Exit(1)
	}

	tokenStore, err := token.NewStore(token.StoreParams{
		Conn:          dbClient.DB(),
		Refresher:     refresher,
		Logger:        logg,
		Metrics:       pipelineMetrics,
		RefreshMargin: cfg.Publisher.TokenRefreshMargin,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create token store", err)
		os.Exit(1)
	}

	gateway, err := linkedin.NewClient(linkedin.ClientParams{
		Config: cfg.LinkedIn,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create linkedin client", err)
		os.Exit(1)
	}

	contentRepo := content.NewRepository(dbClient.DB())

	dispatcher, err := pipeline.NewDispatcher(pipeline.DispatcherParams{
		Repo:    contentRepo,
		Ledger:  ledger.NewRepository(dbClient.DB()),
		Tokens:  tokenStore,
		Gateway: gateway,
		Events:  announcer,
		Logger:  logg,
		Metrics: pipelineMetrics,
		Config:  cfg.Publisher,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create dispatcher", err)
		os.Exit(1)
	}

	scheduler, err := pipeline.NewScheduler(pipeline.SchedulerParams{
		Repo:       contentRepo,
		Dispatcher: dispatcher,
		Logger:     logg,
		Metrics:    pipelineMetrics,
		Config:     cfg.Publisher,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create scheduler", err)
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(context.Background(), "metrics server stopped unexpectedly", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting publisher worker")

	dispatcher.Start(ctx)

	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "scheduler stopped unexpectedly", err)
		os.Exit(1)
	}

	// Let in-flight publish attempts finish before exiting.
	drainCtx, cancel := context.WithTimeout(context.Background(), dispatcherDrainGrace)
	defer cancel()

	var shutdownErrs error
	if err := dispatcher.Shutdown(drainCtx); err != nil {
		shutdownErrs = multierr.Append(shutdownErrs, err)
	}
	if err := metricsServer.Shutdown(drainCtx); err != nil {
		shutdownErrs = multierr.Append(shutdownErrs, err)
	}
	if shutdownErrs != nil {
		logg.Error(ctx, "publisher shutdown incomplete", shutdownErrs)
		os.Exit(1)
	}

	logg.Info(ctx, "publisher worker shut down gracefully")
}
