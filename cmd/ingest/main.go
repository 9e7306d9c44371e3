package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"order-analytics-pipeline/internal/config"
	"order-analytics-pipeline/internal/filter"
	"order-analytics-pipeline/internal/ingest"
	"order-analytics-pipeline/internal/logger"
	"order-analytics-pipeline/internal/storage"
)

func main() {
	key := flag.String("key", "", "raw object key to filter")
	prefix := flag.String("prefix", "", "filter every object under this prefix (whole raw area when empty)")
	flag.Parse()

	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat, "ingest")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

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

	policy := filter.NewPolicy(cfg.FilterStaleStatuses, cfg.FilterWindowDays)
	pipeline := ingest.NewPipeline(objects, policy, cfg.RawPrefix, cfg.ProcessedPrefix, cfg.OutputPrefixTag, log)

	var summaries []ingest.Summary
	if *key != "" {
		sum, err := pipeline.Run(ctx, *key)
		if err != nil {
			log.WithError(err).Fatal("batch failed")
		}
		summaries = []ingest.Summary{sum}
	} else {
		if summaries, err = pipeline.RunPrefix(ctx, *prefix); err != nil {
			log.WithError(err).Fatal("backfill failed")
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summaries)
}
