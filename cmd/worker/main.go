package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/quotient-erp/quotient/internal/app"
	"github.com/quotient-erp/quotient/internal/approvals"
	"github.com/quotient-erp/quotient/internal/identity"
	"github.com/quotient-erp/quotient/internal/platform/cache"
	"github.com/quotient-erp/quotient/internal/platform/db"
	"github.com/quotient-erp/quotient/internal/quotations"
	"github.com/quotient-erp/quotient/internal/revisions"
	"github.com/quotient-erp/quotient/internal/shared"
	"github.com/quotient-erp/quotient/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	roleProvider := identity.NewCachedProvider(identity.NewPGProvider(pool), redisClient, cfg.RoleCacheTTL, logger)
	approvalService := approvals.NewService(approvals.NewRepository(pool), roleProvider, logger)
	revisionManager := revisions.NewManager(revisions.NewRepository(pool))

	quotationService := quotations.NewService(
		quotations.NewRepository(pool),
		revisionManager,
		approvalService,
		shared.NewAuditLogger(pool),
		logger,
		quotations.Config{DefaultValidity: cfg.QuoteDefaultValidity},
	)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskQuotationExpire, Handler: jobs.NewExpireHandler(quotationService, jobsClient, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ExpiryCronSpec, Task: jobs.NewExpireTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
