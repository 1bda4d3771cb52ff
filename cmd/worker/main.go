// Worker consumes pickup transition events and keeps the gate display board
// projection current.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"schoolops/internal/app"
	"schoolops/internal/board"
	"schoolops/internal/config"
	"schoolops/internal/queue"
	"schoolops/internal/store"
)

func main() {
	cfg := config.Load()
	logger := app.NewLogger(cfg.Env)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable at startup, will retry on consume", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, "")
	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}

	projector := board.NewProjector(board.RedisHash{Client: redisClient.Client}, logger, cfg.Location())

	logger.Info("worker started")
	projector.Run(ctx, messages)
	logger.Info("worker stopped")
}
