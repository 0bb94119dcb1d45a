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

	"github.com/joho/godotenv"

	"github.com/cuongbtq/profile-queue/internal/bootstrap"
	"github.com/cuongbtq/profile-queue/internal/config"
	"github.com/cuongbtq/profile-queue/internal/discovery"
	"github.com/cuongbtq/profile-queue/shared/kafka"
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

	defaultConfigPath := os.Getenv("DISCOVERY_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/discovery-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateDiscoveryConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting discovery service",
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

	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	if rabbitClient != nil {
		defer rabbitClient.Close()
	}

	q, err := bootstrap.NewQueue(ctx, cfg, store, rabbitClient, appLogger.Logger)
	if err != nil {
		return err
	}

	consumer := kafka.NewConsumer(bootstrap.KafkaConsumerConfig(&cfg.Kafka), appLogger.Logger)
	defer consumer.Close()

	var opts []discovery.Option
	if cfg.Kafka.DeadLetterTopic != "" {
		dlq, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.DeadLetterTopic, cfg.Kafka.WriteTimeout)
		if err != nil {
			return fmt.Errorf("failed to initialize dead letter producer: %w", err)
		}
		defer dlq.Close()
		opts = append(opts, discovery.WithDeadLetter(dlq))
	}

	ingestor := discovery.NewIngestor(consumer, q, appLogger.With(slog.String("component", "discovery")).Logger, opts...)

	if err := ingestor.Run(ctx); err != nil {
		appLogger.Error("Discovery ingestion failed",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Discovery service shutdown complete")
	return nil
}
