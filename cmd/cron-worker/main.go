package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/postpilot-hq/postpilot-backend/internal/content"
	"github.com/postpilot-hq/postpilot-backend/internal/cron"
	"github.com/postpilot-hq/postpilot-backend/internal/engagement"
	"github.com/postpilot-hq/postpilot-backend/internal/ledger"
	"github.com/postpilot-hq/postpilot-backend/internal/linkedin"
	"github.com/postpilot-hq/postpilot-backend/internal/token"
	"github.com/postpilot-hq/postpilot-backend/pkg/bigquery"
	"github.com/postpilot-hq/postpilot-backend/pkg/config"
	"github.com/postpilot-hq/postpilot-backend/pkg/db"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
	"github.com/postpilot-hq/postpilot-backend/pkg/metrics"
	"github.com/postpilot-hq/postpilot-backend/pkg/migrate"
	"github.com/postpilot-hq/postpilot-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var exporter engagement.Exporter
	if cfg.GCP.ProjectID != "" {
		bigqueryClient, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap bigquery", err)
			os.Exit(1)
		}
		defer func() {
			if err := bigqueryClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing bigquery", err)
			}
		}()
		exporter = bigqueryClient
	} else {
		logg.Warn(context.Background(), "gcp project not configured, warehouse export disabled")
	}

	refresher, err := linkedin.NewRefresher(cfg.LinkedIn, logg, nil)
	if err != nil {
		logg.Error(context.Background(), "failed to create linkedin refresher", err)
		os.Exit(1)
	}

	tokenStore, err := token.NewStore(token.StoreParams{
		Conn:          dbClient.DB(),
		Refresher:     refresher,
		Logger:        logg,
		RefreshMargin: cfg.Publisher.TokenRefreshMargin,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create token store", err)
		os.Exit(1)
	}

	fetcher, err := linkedin.NewClient(linkedin.ClientParams{
		Config: cfg.LinkedIn,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create linkedin client", err)
		os.Exit(1)
	}

	reconciler, err := engagement.NewReconciler(engagement.ReconcilerParams{
		Content:   content.NewRepository(dbClient.DB()),
		Snapshots: engagement.NewRepository(dbClient.DB()),
		Tokens:    tokenStore,
		Fetcher:   fetcher,
		Cache:     redisClient,
		Exporter:  exporter,
		Logger:    logg,
		BatchSize: cfg.Cron.MetricsBatch,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}

	reconcileJob, err := cron.NewEngagementReconcileJob(cron.EngagementReconcileJobParams{
		Logger:     logg,
		Reconciler: reconciler,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewLedgerRetentionJob(cron.LedgerRetentionJobParams{
		Logger:     logg,
		Repository: ledger.NewRepository(dbClient.DB()),
		Retention:  cfg.Ledger.RetentionTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+cfg.App.Env), cfg.Cron.Interval)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(reconcileJob, retentionJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
