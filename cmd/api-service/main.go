package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/profile-queue/internal/api/handler"
	"github.com/cuongbtq/profile-queue/internal/api/router"
	"github.com/cuongbtq/profile-queue/internal/bootstrap"
	"github.com/cuongbtq/profile-queue/internal/config"
	"github.com/cuongbtq/profile-queue/internal/queue"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	appLogger.Info("Database connection established",
		slog.String("driver", cfg.Database.Driver),
	)

	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	if rabbitClient != nil {
		defer rabbitClient.Close()
		appLogger.Info("RabbitMQ connection established")
	}

	metrics, err := bootstrap.InitTelemetry(router.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer metrics.Shutdown(context.Background())

	q, err := bootstrap.NewQueue(ctx, cfg, store, rabbitClient, appLogger.Logger)
	if err != nil {
		return err
	}

	r := initRouter(cfg.App.Environment, appLogger.Logger, q, metrics.Handler())

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	if !cfg.Queue.DisableSweeper {
		sw, err := bootstrap.NewSweeper(&cfg.Queue, q, appLogger.Logger)
		if err != nil {
			return err
		}
		sw.Start()

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return sw.Stop(shutdownCtx)
		})
	}

	g.Go(func() error {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown",
				slog.Any("error", err),
			)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, logger *slog.Logger, q *queue.Queue, metrics http.Handler) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:  logger,
		Queue:   q,
		Metrics: metrics,
	})
}
