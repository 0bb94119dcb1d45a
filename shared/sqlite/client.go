package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Config holds SQLite database configuration
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Client represents a SQLite database client
type Client struct {
	db     *sqlx.DB
	config *Config
	logger *slog.Logger
}

// NewClient opens (and creates when missing) the SQLite database file
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	if dir := filepath.Dir(config.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	busy := config.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		config.Path, busy.Milliseconds())

	logger.Info("Opening SQLite database",
		slog.String("path", config.Path),
	)

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		logger.Error("Failed to open SQLite database",
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)

	return &Client{
		db:     db,
		config: config,
		logger: logger,
	}, nil
}

// GetDB returns the underlying sqlx.DB instance
func (c *Client) GetDB() *sqlx.DB {
	return c.db
}

// Ping checks the database connection
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database
func (c *Client) Close() error {
	c.logger.Info("Closing SQLite database")

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close SQLite database",
				slog.Any("error", err),
			)
			return err
		}
	}
	return nil
}
