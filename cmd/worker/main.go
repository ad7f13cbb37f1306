package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/educanvas/educanvas/internal/app"
	"github.com/educanvas/educanvas/internal/audit"
	jobmetrics "github.com/educanvas/educanvas/internal/jobs"
	"github.com/educanvas/educanvas/internal/platform/db"
	"github.com/educanvas/educanvas/jobs"
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

	auditLogger := audit.NewLogger(pool)
	metrics := jobmetrics.NewMetrics(nil)

	pruneTask, err := jobs.NewAuditPruneTask(jobs.AuditPrunePayload{
		RetentionDays: cfg.AuditRetentionDays,
	})
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeAuditRecord, Handler: jobs.NewAuditRecordHandler(logger, auditLogger, metrics)},
			{Type: jobs.TaskTypeAuditPrune, Handler: jobs.NewAuditPruneHandler(logger, auditLogger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "45 2 * * *", Task: pruneTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
