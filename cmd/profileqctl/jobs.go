package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/profile-queue/internal/api/dto"
	"github.com/cuongbtq/profile-queue/internal/queue"
	"github.com/cuongbtq/profile-queue/internal/queue/domain"
	"github.com/cuongbtq/profile-queue/internal/queue/storage"
)

func enqueueCmd(a *app) *cobra.Command {
	var priority, origin, requestID string

	cmd := &cobra.Command{
		Use:   "enqueue <subject>",
		Short: "Queue a profile for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := queue.EnqueueRequest{
				Subject:   args[0],
				Origin:    origin,
				RequestID: requestID,
			}
			if priority != "" {
				p, err := domain.ParsePriority(priority)
				if err != nil {
					return err
				}
				req.Priority = p
			}

			return a.withQueue(cmd.Context(), func(q *queue.Queue) error {
				job, created, err := q.Enqueue(cmd.Context(), req)
				if err != nil {
					return err
				}
				if created {
					fmt.Fprintf(cmd.OutOrStdout(), "Job enqueued: %s\n", job.ID)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Already covered by job %s (%s)\n", job.ID, job.Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&priority, "priority", "", "HIGH or LOW (default from config)")
	cmd.Flags().StringVar(&origin, "origin", "", "Where the request came from (default from config)")
	cmd.Flags().StringVar(&requestID, "request-id", "", "Idempotency key")
	return cmd
}

func listCmd(a *app) *cobra.Command {
	var status, subject, priority, origin string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.Filter{Subject: subject, Origin: origin, PageSize: limit}
			if status != "" {
				s, err := domain.ParseStatus(status)
				if err != nil {
					return err
				}
				filter.Status = s
			}
			if priority != "" {
				p, err := domain.ParsePriority(priority)
				if err != nil {
					return err
				}
				filter.Priority = p
			}

			return a.withQueue(cmd.Context(), func(q *queue.Queue) error {
				jobs, err := q.List(cmd.Context(), filter)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					dtos := make([]dto.JobDTO, len(jobs))
					for i, job := range jobs {
						dtos[i] = dto.FromJob(job)
					}
					return printJSON(out, dtos)
				}

				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs found.")
					return nil
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSUBJECT\tPRIORITY\tSTATUS\tATTEMPTS\tCREATED\tERROR")
				for _, job := range jobs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
						job.ID, job.Subject, job.Priority, job.Status, job.Attempts,
						job.CreatedAt.Format(time.RFC3339), job.ErrorValue())
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, PROCESSING, PAUSED, COMPLETED, FAILED)")
	cmd.Flags().StringVar(&subject, "subject", "", "Filter by subject")
	cmd.Flags().StringVar(&priority, "priority", "", "Filter by priority")
	cmd.Flags().StringVar(&origin, "origin", "", "Filter by origin")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func getCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withQueue(cmd.Context(), func(q *queue.Queue) error {
				job, err := q.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), dto.FromJob(job))
			})
		},
	}
}

func pauseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <job-id>",
		Short: "Hold a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withQueue(cmd.Context(), func(q *queue.Queue) error {
				job, err := q.Pause(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s paused\n", job.ID)
				return nil
			})
		},
	}
}

func resumeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Return a paused job to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withQueue(cmd.Context(), func(q *queue.Queue) error {
				job, err := q.Resume(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s resumed\n", job.ID)
				return nil
			})
		},
	}
}
