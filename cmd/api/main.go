package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/redis/go-redis/v9"

	"order-analytics-pipeline/internal/api"
	"order-analytics-pipeline/internal/cache"
	"order-analytics-pipeline/internal/catalog"
	"order-analytics-pipeline/internal/config"
	"order-analytics-pipeline/internal/filter"
	"order-analytics-pipeline/internal/ingest"
	"order-analytics-pipeline/internal/logger"
	"order-analytics-pipeline/internal/orchestrator"
	"order-analytics-pipeline/internal/queryexec"
	"order-analytics-pipeline/internal/ratelimit"
	"order-analytics-pipeline/internal/storage"
	"order-analytics-pipeline/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat, "api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	cat := catalog.Default()
	if err := cat.Validate(); err != nil {
		log.WithError(err).Fatal("invalid query catalog")
	}

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("connect postgres")
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		log.WithError(err).Fatal("run migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	reportCache := cache.New(redisClient, cfg.ReportCacheTTL, cfg.RunLeaseTTL)
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	objects, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		PathStyle: cfg.S3PathStyle,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		log.WithError(err).Fatal("init object store")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		log.WithError(err).Fatal("load aws config")
	}
	exec := queryexec.NewAthenaService(
		athena.NewFromConfig(awsCfg), objects,
		cfg.AthenaDatabase, cfg.AthenaWorkgroup, cfg.ResultsPrefix,
	)

	orch := orchestrator.New(exec, limiter, orchestrator.Config{
		Table:           cfg.AthenaTable,
		OutputLocation:  cfg.OutputLocation(),
		PollInitial:     cfg.PollInitial,
		PollMax:         cfg.PollMax,
		PollMultiplier:  cfg.PollMultiplier,
		MaxPollAttempts: cfg.MaxPollAttempts,
		RetryBudget:     cfg.RetryBudget,
		QueryTimeout:    cfg.QueryTimeout,
		RunDeadline:     cfg.RunDeadline,
		CancelGrace:     cfg.CancelGrace,
	}, log)

	policy := filter.NewPolicy(cfg.FilterStaleStatuses, cfg.FilterWindowDays)
	pipeline := ingest.NewPipeline(objects, policy, cfg.RawPrefix, cfg.ProcessedPrefix, cfg.OutputPrefixTag, log)

	server := api.New(cfg, st, reportCache, pipeline, orch, cat, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.WithField("port", cfg.HTTPPort).Info("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
