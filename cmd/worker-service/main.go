package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/profile-queue/internal/bootstrap"
	"github.com/cuongbtq/profile-queue/internal/config"
	"github.com/cuongbtq/profile-queue/internal/queue/sweeper"
	"github.com/cuongbtq/profile-queue/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := bootstrap.OpenStore(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	appLogger.Info("Database connection established")

	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	q, err := bootstrap.NewQueue(ctx, cfg, store, rabbitClient, appLogger.Logger)
	if err != nil {
		return err
	}

	caps, err := bootstrap.Capabilities(&cfg.Worker)
	if err != nil {
		return fmt.Errorf("invalid worker capabilities: %w", err)
	}

	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])

	workerCfg := &worker.Config{
		Logger:            appLogger.With(slog.String("worker_id", workerID)).Logger,
		Queue:             q,
		Processor:         worker.NewScraperProcessor(cfg.Worker.ScraperURL, cfg.Worker.ScraperTimeout),
		WorkerID:          workerID,
		Concurrency:       cfg.Worker.Concurrency,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		PollInterval:      cfg.Worker.PollInterval,
		PollRate:          cfg.Worker.PollRate,
		PollBurst:         cfg.Worker.PollBurst,
		MaxAttempts:       cfg.Queue.MaxAttempts,
		Capabilities:      caps,
	}
	if rabbitClient != nil {
		appLogger.Info("RabbitMQ connection established")
		workerCfg.Wakeups = rabbitClient
	}
	workerInstance := worker.NewWorker(workerCfg)

	// worker-only deployments still need expired leases reclaimed
	var sw *sweeper.Sweeper
	if !cfg.Queue.DisableSweeper {
		sw, err = bootstrap.NewSweeper(&cfg.Queue, q, appLogger.Logger)
		if err != nil {
			return err
		}
		sw.Start()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	cancel()

	shutdownTimeout := cfg.Worker.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		// leases of unfinished jobs expire and the sweeper reclaims them
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if sw != nil {
		if err := sw.Stop(shutdownCtx); err != nil {
			appLogger.Warn("Sweeper did not stop in time",
				slog.Any("error", err),
			)
		}
	}

	if rabbitClient != nil {
		rabbitClient.Close()
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}
