// Command streamserver is the stream server's entrypoint: it loads
// configuration, wires the Event Log, Task Registry, Task Manager,
// Replayer, and HTTP/SSE Surface together, and serves until an
// interrupt signal asks it to shut down gracefully.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/DM-llm/deer-flow/internal/api"
	"github.com/DM-llm/deer-flow/internal/archive"
	"github.com/DM-llm/deer-flow/internal/audit"
	"github.com/DM-llm/deer-flow/internal/config"
	"github.com/DM-llm/deer-flow/internal/contentstore"
	minioclient "github.com/DM-llm/deer-flow/internal/database/minio"
	mongoclient "github.com/DM-llm/deer-flow/internal/database/mongo"
	redisclient "github.com/DM-llm/deer-flow/internal/database/redis"
	"github.com/DM-llm/deer-flow/internal/eventlog"
	"github.com/DM-llm/deer-flow/internal/metrics"
	"github.com/DM-llm/deer-flow/internal/replayer"
	"github.com/DM-llm/deer-flow/internal/taskmanager"
	"github.com/DM-llm/deer-flow/internal/taskregistry"
	"github.com/DM-llm/deer-flow/internal/workflow"
	"github.com/DM-llm/deer-flow/pkg/circuitbreaker"
	"github.com/DM-llm/deer-flow/pkg/httpmiddleware"
	"github.com/DM-llm/deer-flow/pkg/logger"
	"github.com/DM-llm/deer-flow/pkg/ratelimiter"
)

func main() {
	configPath := "config.yaml"
	if v := os.Getenv("STREAMSERVER_CONFIG"); v != "" {
		configPath = v
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Logger.Level)
	if err != nil {
		log.Fatalf("invalid logger level: %v", err)
	}
	logger.Init(logLevel)
	serviceLogger := logger.New("streamserver", "", "")

	redisCli, err := redisclient.GetClient(&cfg.Redis)
	if err != nil {
		serviceLogger.WithError(err).Fatal("failed to connect to redis")
	}
	serviceLogger.Info("connected to redis")

	store := eventlog.NewFallbackStore(eventlog.NewRedis(redisCli), serviceLogger)
	baseRegistry := taskregistry.NewFallbackRegistry(taskregistry.NewRedis(redisCli), serviceLogger)
	registry := taskregistry.NewCachedRegistry(baseRegistry, 1024, 30*time.Second)

	var offloader contentstore.Offloader = contentstore.NoOpStore{}
	if cfg.MinIO.Endpoint != "" {
		minioCli, err := minioclient.GetClient(&cfg.MinIO)
		if err != nil {
			serviceLogger.WithError(err).Fatal("failed to connect to minio")
		}
		offloader = contentstore.NewMinIOStore(minioCli, cfg.MinIO.Bucket, cfg.MinIO.OffloadBytes, serviceLogger)
		serviceLogger.Info("connected to minio, content offloading enabled")
	} else {
		serviceLogger.Info("minio endpoint not configured, content offloading disabled")
	}

	var archiver *archive.Archiver
	if cfg.Mongo.Address != "" {
		mongoCli, err := mongoclient.GetClient(&cfg.Mongo)
		if err != nil {
			serviceLogger.WithError(err).Fatal("failed to connect to mongo")
		}
		archiver = archive.New(mongoCli.Database(cfg.Mongo.Database), cfg.Mongo.Collection)
		serviceLogger.Info("connected to mongo, task archival enabled")
	} else {
		serviceLogger.Info("mongo address not configured, task archival disabled")
	}

	var auditPublisher *audit.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		auditPublisher = audit.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, serviceLogger)
		serviceLogger.Info("kafka configured, task lifecycle audit trail enabled")
	} else {
		serviceLogger.Info("kafka brokers not configured, audit trail disabled")
	}

	var engine workflow.Engine
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		model := os.Getenv("OPENAI_MODEL")
		if model == "" {
			model = "gpt-4o-mini"
		}
		engine = workflow.NewOpenAIEngine(apiKey, model)
		serviceLogger.Info("OPENAI_API_KEY set, using OpenAIEngine")
	} else {
		engine = &workflow.SimulatedEngine{}
		serviceLogger.Info("OPENAI_API_KEY not set, using SimulatedEngine")
	}

	managerOpts := []taskmanager.Option{taskmanager.WithOffloader(offloader)}
	if auditPublisher != nil {
		managerOpts = append(managerOpts, taskmanager.WithAudit(auditPublisher))
	}
	if archiver != nil {
		managerOpts = append(managerOpts, taskmanager.WithArchiver(archiver))
	}

	manager := taskmanager.New(
		registry, store, engine,
		cfg.TaskManager.MaxConcurrentTasks, cfg.TaskManager.ProgressUpdateEvery,
		serviceLogger, managerOpts...,
	)

	cleanupScheduler := cron.New()
	if _, err := cleanupScheduler.AddFunc(cfg.TaskManager.CleanupSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		removed, err := manager.Cleanup(ctx, cfg.TaskManager.RetentionDays)
		if err != nil {
			serviceLogger.WithError(err).Error("scheduled task cleanup failed")
			return
		}
		serviceLogger.WithField("removed", removed).Info("scheduled task cleanup completed")
	}); err != nil {
		serviceLogger.WithError(err).Fatal("invalid cleanup cron schedule")
	}
	cleanupScheduler.Start()

	replay := replayer.New(store, registry, cfg.EventLog.RangeBatchSize, cfg.EventLog.TailBlockDuration(), serviceLogger)

	apiHandler := api.New(manager, replay, registry, store, serviceLogger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	if cfg.Metrics.Enabled {
		router.Use(metrics.Middleware())
		router.GET(cfg.Metrics.Path, metrics.Handler())
	}

	if cfg.CircuitBreaker.Enabled {
		timeout, err := time.ParseDuration(cfg.CircuitBreaker.Timeout)
		if err != nil {
			timeout = 30 * time.Second
		}
		breaker := circuitbreaker.New(cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.SuccessThreshold, timeout)
		router.Use(httpmiddleware.CircuitBreak(breaker))
	}

	if cfg.RateLimiter.Enabled {
		limiter, err := buildRateLimiter(&cfg.RateLimiter)
		if err != nil {
			serviceLogger.WithError(err).Fatal("invalid rate limiter configuration")
		}
		router.Use(httpmiddleware.RateLimit(limiter))
	}

	api.RegisterRoutes(router, apiHandler)

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	go func() {
		serviceLogger.WithField("address", srv.Addr).Info("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serviceLogger.WithError(err).Fatal("HTTP server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	serviceLogger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeoutDuration())
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serviceLogger.WithError(err).Error("server forced to shutdown")
	}

	cronCtx := cleanupScheduler.Stop()
	<-cronCtx.Done()

	if auditPublisher != nil {
		if err := auditPublisher.Close(); err != nil {
			serviceLogger.WithError(err).Error("error closing kafka audit publisher")
		}
	}
	if cfg.Mongo.Address != "" {
		if err := mongoclient.Close(context.Background()); err != nil {
			serviceLogger.WithError(err).Error("error disconnecting from mongo")
		}
	}
	if err := redisclient.Close(); err != nil {
		serviceLogger.WithError(err).Error("error closing redis client")
	}

	serviceLogger.Info("server gracefully stopped")
}

func buildRateLimiter(cfg *config.RateLimiterConfig) (ratelimiter.RateLimiter, error) {
	switch cfg.Algorithm {
	case "fixedWindow":
		window, err := time.ParseDuration(cfg.FixedWindow.Window)
		if err != nil {
			return nil, err
		}
		return ratelimiter.NewFixedWindowCounter(cfg.FixedWindow.Limit, window), nil
	case "slidingLog":
		window, err := time.ParseDuration(cfg.SlidingLog.Window)
		if err != nil {
			return nil, err
		}
		return ratelimiter.NewSlidingWindowLog(cfg.SlidingLog.Limit, window), nil
	case "slidingCounter":
		window, err := time.ParseDuration(cfg.SlidingCounter.Window)
		if err != nil {
			return nil, err
		}
		return ratelimiter.NewSlidingWindowCounter(cfg.SlidingCounter.Limit, window, cfg.SlidingCounter.NumBuckets), nil
	case "leakyBucket":
		return ratelimiter.NewLeakyBucket(cfg.LeakyBucket.Rate, cfg.LeakyBucket.Capacity), nil
	case "tokenBucket", "":
		return ratelimiter.NewTokenBucket(cfg.TokenBucket.Rate, cfg.TokenBucket.Capacity), nil
	default:
		return nil, errors.New("unknown rate limiter algorithm: " + cfg.Algorithm)
	}
}
