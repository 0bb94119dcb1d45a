// Package bootstrap builds the clients and queue engine shared by every binary
// from the loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/profile-queue/internal/config"
	"github.com/cuongbtq/profile-queue/internal/notify"
	"github.com/cuongbtq/profile-queue/internal/queue"
	"github.com/cuongbtq/profile-queue/internal/queue/domain"
	"github.com/cuongbtq/profile-queue/internal/queue/storage"
	"github.com/cuongbtq/profile-queue/internal/queue/sweeper"
	"github.com/cuongbtq/profile-queue/shared/kafka"
	"github.com/cuongbtq/profile-queue/shared/logger"
	"github.com/cuongbtq/profile-queue/shared/postgresql"
	"github.com/cuongbtq/profile-queue/shared/rabbitmq"
	"github.com/cuongbtq/profile-queue/shared/sqlite"
	"github.com/cuongbtq/profile-queue/shared/telemetry"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// InitTelemetry creates the Prometheus-backed MeterProvider for serviceName
// and installs it globally, so queues built afterwards record on it
func InitTelemetry(serviceName string) (*telemetry.Provider, error) {
	provider, err := telemetry.NewPrometheus(serviceName)
	if err != nil {
		return nil, err
	}
	provider.SetGlobal()
	return provider, nil
}

// Store is the SQL job store together with the connection it owns
type Store struct {
	*storage.SQLStore
	db    *sqlx.DB
	close func() error
}

// DB returns the underlying handle
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.close()
}

// OpenStore connects to the configured database and, when auto_migrate is
// set, creates the jobs schema
func OpenStore(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	var store *Store

	switch cfg.Driver {
	case config.DriverSQLite:
		client, err := sqlite.NewClient(&sqlite.Config{
			Path:        cfg.Path,
			BusyTimeout: cfg.BusyTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		store = &Store{db: client.GetDB(), close: client.Close}

	case config.DriverPostgres:
		client, err := postgresql.NewClient(PostgresConfig(cfg), logger)
		if err != nil {
			return nil, err
		}
		store = &Store{db: client.GetDB(), close: client.Close}

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	store.SQLStore = storage.NewSQLStore(store.db, logger)

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

// PostgresConfig maps the database section onto the PostgreSQL client
func PostgresConfig(cfg *config.DatabaseConfig) *postgresql.Config {
	return &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		ApplicationName: "profile-queue",
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
}

// RabbitMQConfig maps the rabbitmq section onto the RabbitMQ client
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
	}
}

// InitRabbitMQ connects to RabbitMQ. It returns nil, nil when notifications
// are disabled.
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	if !cfg.Enabled {
		logger.Info("RabbitMQ notifications disabled")
		return nil, nil
	}
	return rabbitmq.NewClient(RabbitMQConfig(cfg), logger)
}

// NewQueue builds the queue engine on store. Job-ready notifications go
// through rabbitClient when it is not nil.
func NewQueue(ctx context.Context, cfg *config.Config, store storage.Store, rabbitClient *rabbitmq.Client, logger *slog.Logger) (*queue.Queue, error) {
	policy, err := cfg.QueuePolicy()
	if err != nil {
		return nil, err
	}

	var opts []queue.Option
	if rabbitClient != nil {
		opts = append(opts, queue.WithNotifier(notify.NewPublisher(rabbitClient)))
	}

	q, err := queue.New(ctx, store, policy, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	return q, nil
}

// NewSweeper schedules the stale lease sweep for q
func NewSweeper(cfg *config.QueueConfig, q *queue.Queue, logger *slog.Logger) (*sweeper.Sweeper, error) {
	return sweeper.New(q, cfg.SweepSchedule, cfg.SweepTimeout, logger.With(slog.String("component", "sweeper")))
}

// KafkaConsumerConfig maps the kafka section onto the discovery consumer
func KafkaConsumerConfig(cfg *config.KafkaConfig) kafka.ConsumerConfig {
	return kafka.ConsumerConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.DiscoveryTopic,
		GroupID:     cfg.GroupID,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: cfg.StartOffset,
	}
}

// Capabilities converts the worker priority and origin lists
func Capabilities(cfg *config.WorkerConfig) (queue.Capabilities, error) {
	caps := queue.Capabilities{Origins: cfg.Origins}
	for _, raw := range cfg.Priorities {
		p, err := domain.ParsePriority(raw)
		if err != nil {
			return queue.Capabilities{}, err
		}
		caps.Priorities = append(caps.Priorities, p)
	}
	return caps, nil
}
