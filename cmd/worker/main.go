package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantage-admin/vantage/internal/app"
	"github.com/vantage-admin/vantage/internal/platform/cache"
	"github.com/vantage-admin/vantage/internal/roles"
	"github.com/vantage-admin/vantage/internal/shared"
	"github.com/vantage-admin/vantage/internal/storage"
	"github.com/vantage-admin/vantage/internal/users"
	"github.com/vantage-admin/vantage/jobs"
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

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
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

	avatarStore, err := storage.NewDiskStore(cfg.AvatarDir)
	if err != nil {
		logger.Error("init avatar store", slog.Any("error", err))
		os.Exit(1)
	}

	versioned := cache.NewVersioned(redisClient, cfg.CacheTTL)
	auditLogger := shared.NewAuditLogger(pool)

	rolesRepo := roles.NewRepository(pool)
	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, rolesRepo, avatarStore, versioned, auditLogger, logger)

	warmupJob := jobs.NewStatsWarmupJob(usersService, versioned, logger, nil)
	retentionJob := jobs.NewAuditRetentionJob(auditLogger, logger, nil)
	sweepJob := jobs.NewSessionSweepJob(pool, logger, nil)

	retentionTask, err := jobs.NewAuditRetentionTask(jobs.AuditRetentionPayload{RetentionDays: jobs.DefaultAuditRetentionDays})
	if err != nil {
		logger.Error("build retention task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskStatsWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskAuditRetention, Handler: retentionJob.Handle},
			{Type: jobs.TaskSessionSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 1 * * *", Task: jobs.NewStatsWarmupTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 2 * * *", Task: retentionTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 * * * *", Task: jobs.NewSessionSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
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
