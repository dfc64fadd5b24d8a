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
	"go.uber.org/multierr"

	"github.com/postpilot-hq/postpilot-backend/api/controllers"
	"github.com/postpilot-hq/postpilot-backend/api/routes"
	"github.com/postpilot-hq/postpilot-backend/internal/content"
	"github.com/postpilot-hq/postpilot-backend/internal/engagement"
	"github.com/postpilot-hq/postpilot-backend/internal/ledger"
	"github.com/postpilot-hq/postpilot-backend/internal/linkedin"
	"github.com/postpilot-hq/postpilot-backend/internal/token"
	"github.com/postpilot-hq/postpilot-backend/pkg/config"
	"github.com/postpilot-hq/postpilot-backend/pkg/db"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
	"github.com/postpilot-hq/postpilot-backend/pkg/migrate"
	"github.com/postpilot-hq/postpilot-backend/pkg/redis"
)

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	contentService, err := content.NewService(content.ServiceParams{
		Repo:   content.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create content service", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(routes.RouterParams{
		Config:    cfg,
		Logger:    logg,
		Content:   contentService,
		Ledger:    ledger.NewRepository(dbClient.DB()),
		Snapshots: engagement.NewRepository(dbClient.DB()),
		Tokens:    tokenStore,
		Pingers: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Registry: prometheus.NewRegistry(),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		var shutdownErrs error
		if err := server.Shutdown(shutdownCtx); err != nil {
			shutdownErrs = multierr.Append(shutdownErrs, err)
		}
		if shutdownErrs != nil {
			logg.Error(ctx, "api server shutdown incomplete", shutdownErrs)
			os.Exit(1)
		}
	}

	logg.Info(ctx, "api server shut down gracefully")
}
