package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/profile-queue/internal/bootstrap"
	"github.com/cuongbtq/profile-queue/internal/discovery"
	"github.com/cuongbtq/profile-queue/internal/queue"
	"github.com/cuongbtq/profile-queue/internal/queue/domain"
	"github.com/cuongbtq/profile-queue/shared/kafka"
)

func statsCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withQueue(cmd.Context(), func(q *queue.Queue) error {
				stats, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					return printJSON(out, stats)
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, s := range domain.Statuses {
					fmt.Fprintf(tw, "%s\t%d\n", s, stats.ByStatus[s])
				}
				fmt.Fprintf(tw, "TOTAL\t%d\n", stats.Total)
				fmt.Fprintf(tw, "ACTIVE SUBJECTS\t%d\n", stats.ActiveKeys)
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func sweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reclaim jobs whose lease expired, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withQueue(cmd.Context(), func(q *queue.Queue) error {
				result, err := q.SweepStale(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d, retried %d, failed %d, skipped %d, errors %d\n",
					result.Scanned, result.Retried, result.Failed, result.Skipped, result.Errors)
				return nil
			})
		},
	}
}

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the jobs schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadConfig(); err != nil {
				return err
			}
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			dbCfg := a.cfg.Database
			dbCfg.AutoMigrate = true
			store, err := bootstrap.OpenStore(cmd.Context(), &dbCfg, a.logger.Logger)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Schema ready (%s)\n", dbCfg.Driver)
			return nil
		},
	}
}

func discoverCmd(a *app) *cobra.Command {
	var batchID, source, priority string

	cmd := &cobra.Command{
		Use:   "discover <subject>...",
		Short: "Publish a similar-profile discovery batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadConfig(); err != nil {
				return err
			}
			if len(a.cfg.Kafka.Brokers) == 0 || a.cfg.Kafka.DiscoveryTopic == "" {
				return fmt.Errorf("kafka brokers and discovery_topic are required")
			}
			if batchID == "" {
				return fmt.Errorf("the --batch flag is required")
			}

			producer, err := kafka.NewProducer(a.cfg.Kafka.Brokers, a.cfg.Kafka.DiscoveryTopic, a.cfg.Kafka.WriteTimeout)
			if err != nil {
				return err
			}
			defer producer.Close()

			batch := discovery.Batch{
				BatchID:       batchID,
				SourceSubject: source,
				Subjects:      args,
				Priority:      strings.ToUpper(priority),
			}
			key := source
			if key == "" {
				key = batchID
			}
			if err := producer.PublishJSON(cmd.Context(), key, batch); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Published batch %s with %d subjects\n", batchID, len(args))
			return nil
		},
	}
	cmd.Flags().StringVar(&batchID, "batch", "", "Batch id, used for idempotent admission")
	cmd.Flags().StringVar(&source, "source", "", "Subject the batch was discovered from")
	cmd.Flags().StringVar(&priority, "priority", "", "HIGH or LOW")
	return cmd
}
