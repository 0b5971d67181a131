package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/api"
	"curator/internal/queue"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newJobsListCommand(ctx))
	cmd.AddCommand(newJobsShowCommand(ctx))
	cmd.AddCommand(newJobsCancelCommand(ctx))
	cmd.AddCommand(newJobsRetryCommand(ctx))
	return cmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var typeFilter string
	var limit int
	var offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Jobs(cmd.Context(), queue.Filter{
				Status: queue.Status(statusFilter),
				Type:   queue.Type(typeFilter),
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, resp)
			}
			if len(resp.Jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
				return nil
			}
			rows := make([][]string, 0, len(resp.Jobs))
			for _, job := range resp.Jobs {
				rows = append(rows, []string{
					strconv.FormatInt(job.ID, 10),
					job.Type,
					job.Status,
					job.Lane,
					fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts),
					job.EntityID,
					job.CreatedAt.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Type", "Status", "Lane", "Attempts", "Entity", "Created"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by job status")
	cmd.Flags().StringVar(&typeFilter, "type", "", "Filter by job type")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Pagination offset")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			job, err := ctx.client().Job(cmd.Context(), id)
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, job)
			}
			printJob(cmd, job)
			return nil
		},
	}
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a queued job, or flag a running one to stop at the next stage boundary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			resp, err := ctx.client().CancelJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, resp)
			}
			switch resp.Outcome {
			case "flagged":
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d is running; it will stop at the next stage boundary.\n", id)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d canceled.\n", id)
			}
			return nil
		},
	}
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue a failed job with a fresh attempt budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			resp, err := ctx.client().RetryJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d requeued.\n", id)
			return nil
		},
	}
}

func printJob(cmd *cobra.Command, job *api.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:        %d\n", job.ID)
	fmt.Fprintf(out, "Type:      %s\n", job.Type)
	fmt.Fprintf(out, "Status:    %s\n", job.Status)
	fmt.Fprintf(out, "Lane:      %s (priority %d)\n", job.Lane, job.Priority)
	fmt.Fprintf(out, "Attempts:  %d/%d\n", job.Attempts, job.MaxAttempts)
	if job.EntityID != "" {
		fmt.Fprintf(out, "Entity:    %s %s\n", job.EntityType, job.EntityID)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:     %s\n", job.ErrorMessage)
	}
	if job.CancelRequested {
		fmt.Fprintln(out, "Cancel requested")
	}
	fmt.Fprintf(out, "Created:   %s\n", job.CreatedAt.Local().Format(time.DateTime))
	if job.StartedAt != nil {
		fmt.Fprintf(out, "Started:   %s\n", job.StartedAt.Local().Format(time.DateTime))
	}
	if job.EndedAt != nil {
		fmt.Fprintf(out, "Ended:     %s\n", job.EndedAt.Local().Format(time.DateTime))
	}
}
