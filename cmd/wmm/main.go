package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"wheresmymoney/internal/amqp"
	"wheresmymoney/internal/cache"
	"wheresmymoney/internal/cli"
	apphttp "wheresmymoney/internal/http"
	"wheresmymoney/internal/log"
	"wheresmymoney/internal/middleware/ratelimit"
	"wheresmymoney/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)

	cfg := cli.LoadAndValidateConfig(logger)
	ctx := context.Background()

	store := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer store.Close()

	collab := cli.InitCollaborators(ctx, logger, cfg)

	guard := services.NewGuard(store, cfg.GuardCacheSize, cfg.GuardCacheTTL)
	orch := services.NewOrchestrator(store, collab.Banking, collab.Calendar, guard, cli.OrchestratorConfig(cfg))

	checks := map[string]apphttp.HealthCheck{"sqlite": store.Ping}

	// Without a queue, triggers run inline in the request.
	var publisher services.TriggerPublisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, running triggers inline", "error", err)
		} else {
			amqpClient = client
			publisher = client
			checks["amqp"] = func(context.Context) error { return client.Ping() }
			logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	users := services.NewUserService(store, collab.Banking, collab.Calendar, publisher, orch)

	cacheManager := cache.NewManager()
	cacheManager.Register("idempotency", guard.Cache())
	cacheManager.StartCleanup(5 * time.Minute)

	resume := services.NewSyncProcessor(store, orch, services.SyncProcessorConfig{
		PollInterval:    cfg.ResumeInterval,
		BatchSize:       cfg.SyncBatchSize,
		CleanupInterval: time.Hour,
		CleanupAge:      cfg.TriggerRetention,
	})

	srv := apphttp.NewServer(cli.ListenAddr(cfg.Port), apphttp.Deps{
		Users:        users,
		Sync:         orch,
		Checks:       checks,
		GuardCache:   guard.Cache(),
		Logger:       logger,
		RateLimit:    ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute, CleanupInterval: 5 * time.Minute},
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := resume.Stop(ctx); err != nil {
			logger.Error("Resume processor shutdown error", "error", err)
		}
		cacheManager.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", "error", err)
			}
		}
	})

	if err := resume.Start(shutdownCtx); err != nil {
		logger.Error("Failed to start resume processor", "error", err)
	}

	logger.Info("Starting wmm server",
		"port", cfg.Port,
		"calendar", cfg.CalendarBackend,
		"banking", cfg.BankingBackend,
		"amqp_enabled", amqpClient != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}
