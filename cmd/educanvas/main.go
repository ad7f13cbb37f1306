package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/educanvas/educanvas/internal/app"
	"github.com/educanvas/educanvas/internal/audit"
	"github.com/educanvas/educanvas/internal/authz"
	"github.com/educanvas/educanvas/internal/membership"
	"github.com/educanvas/educanvas/internal/observability"
	"github.com/educanvas/educanvas/internal/platform/cache"
	"github.com/educanvas/educanvas/internal/platform/db"
	"github.com/educanvas/educanvas/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()

	var (
		decisionCache authz.DecisionCache
		bus           = authz.NewInvalidationBus(redisClient, logger)
	)
	switch cfg.AuthzCacheBackend {
	case "redis":
		decisionCache = authz.NewRedisCache(redisClient, logger)
	default:
		memory := authz.NewMemoryCache(cfg.AuthzCacheMaxEntries)
		decisionCache = memory
		// In-process caches on other instances only hear about membership
		// changes through the bus.
		go func() {
			if err := bus.Listen(ctx, memory); err != nil && ctx.Err() == nil {
				logger.Error("invalidation bus listener stopped", slog.Any("error", err))
			}
		}()
	}

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	sink := audit.MultiSink{
		audit.NewSlogSink(logger),
		audit.NewQueueSink(queueClient, logger),
	}

	catalog, err := authz.NewCatalog()
	if err != nil {
		logger.Error("build permission catalog", slog.Any("error", err))
		os.Exit(1)
	}

	membershipRepo := membership.NewRepository(dbpool)
	membershipService := membership.NewService(logger, membershipRepo, decisionCache, bus)

	engine, err := authz.NewEngine(authz.EngineConfig{
		Catalog:       catalog,
		Cache:         decisionCache,
		Lookup:        membershipService,
		Sink:          sink,
		Metrics:       metrics,
		Logger:        logger,
		CacheTTL:      cfg.AuthzCacheTTL,
		LookupTimeout: cfg.AuthzLookupTimeout,
	})
	if err != nil {
		logger.Error("init authz engine", slog.Any("error", err))
		os.Exit(1)
	}

	authzHandler := authz.NewHandler(logger, engine)
	membershipHandler := membership.NewHandler(logger, membershipService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Engine:            engine,
		AuthzHandler:      authzHandler,
		MembershipHandler: membershipHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
