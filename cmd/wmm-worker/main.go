package main

import (
	"context"
	"errors"
	"os"
	"time"

	"wheresmymoney/internal/amqp"
	"wheresmymoney/internal/cache"
	"wheresmymoney/internal/cli"
	"wheresmymoney/internal/log"
	"wheresmymoney/internal/services"
	"wheresmymoney/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting wmm-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	store := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer store.Close()

	collab := cli.InitCollaborators(context.Background(), logger, cfg)

	guard := services.NewGuard(store, cfg.GuardCacheSize, cfg.GuardCacheTTL)
	orch := services.NewOrchestrator(store, collab.Banking, collab.Calendar, guard, cli.OrchestratorConfig(cfg))

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	cacheManager := cache.NewManager()
	cacheManager.Register("idempotency", guard.Cache())
	cacheManager.StartCleanup(5 * time.Minute)
	defer cacheManager.Stop()

	syncWorker := worker.NewSyncWorker(store, orch, cfg.SyncBatchSize)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		logger.Info("Shutting down worker...")
	})

	// Work left behind by a crash is picked up before new triggers.
	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", "error", err)
	}

	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- amqpClient.ConsumeSyncTriggers(ctx, syncWorker.HandleSyncTrigger)
	}()

	select {
	case err := <-consumeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Trigger consumption failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
