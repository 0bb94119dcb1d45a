package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/profile-queue/internal/queue"
	"github.com/cuongbtq/profile-queue/internal/queue/backoff"
	"github.com/cuongbtq/profile-queue/internal/queue/domain"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Queue    QueueConfig    `yaml:"queue"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds job store connection configuration.
// Driver "postgres" uses the host/port fields, "sqlite" uses Path.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	BusyTimeout     time.Duration `yaml:"busy_timeout"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueDeclConfig  `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueDeclConfig holds RabbitMQ queue declaration settings
type QueueDeclConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// KafkaConfig holds discovery ingestion settings
type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers"`
	DiscoveryTopic  string        `yaml:"discovery_topic"`
	DeadLetterTopic string        `yaml:"dead_letter_topic"`
	GroupID         string        `yaml:"group_id"`
	MinBytes        int           `yaml:"min_bytes"`
	MaxBytes        int           `yaml:"max_bytes"`
	MaxWait         time.Duration `yaml:"max_wait"`
	StartOffset     string        `yaml:"start_offset"` // "first" or "last"
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // lease renewal; defaults to a third of queue.lease_timeout
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollRate          float64       `yaml:"poll_rate"` // dequeue attempts per second across the pool
	PollBurst         int           `yaml:"poll_burst"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	ScraperURL        string        `yaml:"scraper_url"`
	ScraperTimeout    time.Duration `yaml:"scraper_timeout"`
	Priorities        []string      `yaml:"priorities"`
	Origins           []string      `yaml:"origins"`
}

// QueueConfig holds the scheduling policy
type QueueConfig struct {
	DefaultPriority string        `yaml:"default_priority"`
	DefaultOrigin   string        `yaml:"default_origin"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	LeaseTimeout    time.Duration `yaml:"lease_timeout"`
	ScanBatch       int           `yaml:"scan_batch"`
	SweepSchedule   string        `yaml:"sweep_schedule"`
	SweepTimeout    time.Duration `yaml:"sweep_timeout"`
	DisableSweeper  bool          `yaml:"disable_sweeper"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills unset policy knobs
func (c *Config) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	c.Database.Driver = strings.ToLower(c.Database.Driver)

	if c.Queue.DefaultPriority == "" {
		c.Queue.DefaultPriority = string(domain.DefaultPriority)
	}
	if c.Queue.DefaultOrigin == "" {
		c.Queue.DefaultOrigin = domain.DefaultOrigin
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = queue.DefaultMaxAttempts
	}
	if c.Queue.BackoffBase <= 0 {
		c.Queue.BackoffBase = backoff.DefaultBase
	}
	if c.Queue.BackoffMax <= 0 {
		c.Queue.BackoffMax = backoff.DefaultMax
	}
	if c.Queue.LeaseTimeout <= 0 {
		c.Queue.LeaseTimeout = queue.DefaultLeaseTimeout
	}
	if c.Queue.ScanBatch <= 0 {
		c.Queue.ScanBatch = queue.DefaultScanBatch
	}
	if c.Queue.SweepSchedule == "" {
		c.Queue.SweepSchedule = "@every 1m"
	}

	if c.Worker.HeartbeatInterval <= 0 {
		c.Worker.HeartbeatInterval = c.Queue.LeaseTimeout / 3
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = 5 * time.Second
	}
	if c.Worker.PollRate <= 0 {
		c.Worker.PollRate = 10
	}
	if c.Worker.PollBurst <= 0 {
		c.Worker.PollBurst = 1
	}
	if c.Worker.ScraperTimeout <= 0 {
		c.Worker.ScraperTimeout = 30 * time.Second
	}

	if c.Kafka.MinBytes <= 0 {
		c.Kafka.MinBytes = 1
	}
	if c.Kafka.MaxBytes <= 0 {
		c.Kafka.MaxBytes = 10e6
	}
	if c.Kafka.WriteTimeout <= 0 {
		c.Kafka.WriteTimeout = 3 * time.Second
	}
}

// QueuePolicy converts the queue section into engine settings
func (c *Config) QueuePolicy() (queue.Config, error) {
	priority, err := domain.ParsePriority(c.Queue.DefaultPriority)
	if err != nil {
		return queue.Config{}, fmt.Errorf("invalid queue default_priority: %w", err)
	}

	return queue.Config{
		DefaultPriority: priority,
		DefaultOrigin:   c.Queue.DefaultOrigin,
		MaxAttempts:     c.Queue.MaxAttempts,
		Backoff:         backoff.NewPolicy(c.Queue.BackoffBase, c.Queue.BackoffMax),
		LeaseTimeout:    c.Queue.LeaseTimeout,
		ScanBatch:       c.Queue.ScanBatch,
	}, nil
}

// Validate checks the settings every binary needs: the job store and the queue policy
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	return c.validateQueue()
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.Validate(); err != nil {
		return err
	}

	return c.validateRabbitMQ()
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	// a lease not renewed within lease_timeout is reclaimed while the job runs
	if c.Worker.HeartbeatInterval >= c.Queue.LeaseTimeout {
		return fmt.Errorf("worker heartbeat_interval (%s) must be shorter than queue lease_timeout (%s)",
			c.Worker.HeartbeatInterval, c.Queue.LeaseTimeout)
	}

	if c.Worker.ScraperURL == "" {
		return fmt.Errorf("worker scraper_url is required")
	}

	for _, p := range c.Worker.Priorities {
		if _, err := domain.ParsePriority(p); err != nil {
			return fmt.Errorf("invalid worker priority: %w", err)
		}
	}

	return c.validateRabbitMQ()
}

// ValidateDiscoveryConfig checks the settings the discovery service needs
func (c *Config) ValidateDiscoveryConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}

	if c.Kafka.DiscoveryTopic == "" {
		return fmt.Errorf("kafka discovery_topic is required")
	}

	if c.Kafka.GroupID == "" {
		return fmt.Errorf("kafka group_id is required")
	}

	switch c.Kafka.StartOffset {
	case "", "first", "last":
	default:
		return fmt.Errorf("invalid kafka start_offset: %q (must be first or last)", c.Kafka.StartOffset)
	}

	return c.validateRabbitMQ()
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
		return nil

	case DriverPostgres, "":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		return nil

	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
}

func (c *Config) validateQueue() error {
	if _, err := domain.ParsePriority(c.Queue.DefaultPriority); err != nil {
		return fmt.Errorf("invalid queue default_priority: %w", err)
	}

	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue max_attempts must be greater than 0")
	}

	if c.Queue.BackoffMax > 0 && c.Queue.BackoffBase > c.Queue.BackoffMax {
		return fmt.Errorf("queue backoff_base must not exceed backoff_max")
	}

	if c.Queue.LeaseTimeout <= 0 {
		return fmt.Errorf("queue lease_timeout must be greater than 0")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if !c.RabbitMQ.Enabled {
		return nil
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}
