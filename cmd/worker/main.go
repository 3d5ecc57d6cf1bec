package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/config"
	"classroll/internal/logging"
	"classroll/internal/lowbalance"
	"classroll/internal/queue"
	"classroll/internal/store"
	"classroll/internal/worker"
)

// Worker consumes attendance events and keeps the low-balance set current.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings {
		logger.Warn("config", zap.String("detail", w))
	}

	if cfg.QueueBackend == "memory" || cfg.StoreBackend == "memory" {
		logger.Fatal("worker needs the redis queue and postgres store; the api runs the worker in-process for memory backends")
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, queue.EventsKey)
	svc := attendance.NewService(attendance.NewRepository(db.Client), attendance.Options{Logger: logger.Named("attendance")})
	tracker := lowbalance.NewTracker(redisClient.Client, cfg.LowBalanceThreshold)

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}
	worker.New(svc, tracker, logger.Named("worker")).Run(ctx, messages)
}
