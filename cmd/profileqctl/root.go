package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/profile-queue/internal/bootstrap"
	"github.com/cuongbtq/profile-queue/internal/config"
	"github.com/cuongbtq/profile-queue/internal/queue"
	"github.com/cuongbtq/profile-queue/shared/logger"
)

// app carries what every subcommand opens lazily
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	defaultConfigPath := os.Getenv("PROFILEQCTL_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}

	root := &cobra.Command{
		Use:           "profileqctl",
		Short:         "Operate the profile job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "Path to configuration file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log at debug level to stderr")

	root.AddCommand(
		enqueueCmd(a),
		listCmd(a),
		getCmd(a),
		pauseCmd(a),
		resumeCmd(a),
		statsCmd(a),
		sweepCmd(a),
		migrateCmd(a),
		discoverCmd(a),
	)
	return root
}

// loadConfig reads the configuration and builds a logger writing to stderr
func (a *app) loadConfig() error {
	if a.cfg != nil {
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := cfg.Logging
	logCfg.Output = "stderr"
	logCfg.Level = "warn"
	if a.verbose {
		logCfg.Level = "debug"
	}
	l, err := bootstrap.InitLogger(&logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	a.logger = l
	return nil
}

// withQueue opens the store and queue for the duration of fn
func (a *app) withQueue(ctx context.Context, fn func(q *queue.Queue) error) error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := bootstrap.OpenStore(ctx, &a.cfg.Database, a.logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	rabbitClient, err := bootstrap.InitRabbitMQ(&a.cfg.RabbitMQ, a.logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	if rabbitClient != nil {
		defer rabbitClient.Close()
	}

	q, err := bootstrap.NewQueue(ctx, a.cfg, store, rabbitClient, a.logger.Logger)
	if err != nil {
		return err
	}
	return fn(q)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
