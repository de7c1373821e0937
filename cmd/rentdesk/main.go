package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/rentdesk/rentdesk/internal/app"
	"github.com/rentdesk/rentdesk/internal/auth"
	ledgerhttp "github.com/rentdesk/rentdesk/internal/ledger/http"
	"github.com/rentdesk/rentdesk/internal/observability"
	"github.com/rentdesk/rentdesk/internal/platform/cache"
	"github.com/rentdesk/rentdesk/internal/platform/db"
	"github.com/rentdesk/rentdesk/jobs"
	"github.com/rentdesk/rentdesk/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if applied, err := db.Migrate(ctx, pool, logger); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	} else if len(applied) > 0 {
		logger.Info("migrations applied", slog.Any("versions", applied))
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(cfg.AsynqRedisOpts())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	service := app.NewLedgerService(cfg, pool, redisClient, logger)

	ledgerHandler := ledgerhttp.NewHandler(logger, service)
	readiness := map[string]app.ReadinessCheck{
		"postgres": pool.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}
	if cfg.GotenbergURL != "" {
		gotenberg := report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout)
		ledgerHandler.WithReceiptRenderer(report.NewReceiptRenderer(gotenberg))
		readiness["gotenberg"] = gotenberg.Ping
	}

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Tokens:        auth.NewTokenManager(cfg.AuthJWTSecret, cfg.AuthIssuer),
		LedgerHandler: ledgerHandler,
		JobHandler:    jobs.NewHandler(inspector, logger),
		Metrics:       metrics,
		Readiness:     readiness,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
	logger.Info("http server stopped")
}
