package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sightline-analytics/costlens/internal/model"
	"github.com/sightline-analytics/costlens/internal/store"
)

var (
	jobsUser      string
	jobsStatus    string
	jobsLimit     int
	jobsRetention time.Duration
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage ingestion jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.Manager.ListJobs(ctx, store.JobFilter{
			UserID: jobsUser,
			Status: model.JobStatus(jobsStatus),
			Limit:  jobsLimit,
		})
		if err != nil {
			return err
		}

		for _, j := range jobs {
			fmt.Printf("%s  %-22s  %-12s  rows=%d skipped=%d  %s\n",
				j.ID, j.Status, j.Source, j.RowsTotal, j.RowsSkipped, j.FileName)
		}
		fmt.Printf("%d job(s)\n", len(jobs))
		return nil
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Manager.GetStatus(ctx, args[0], jobsUser)
		if err != nil {
			return err
		}

		fmt.Printf("id:       %s\nstatus:   %s\nsource:   %s\nfile:     %s (%d bytes)\nrows:     %d total, %d skipped\n",
			job.ID, job.Status, job.Source, job.FileName, job.FileSize, job.RowsTotal, job.RowsSkipped)
		if job.ErrorSummary != "" {
			fmt.Printf("errors:   %s\n", job.ErrorSummary)
		}
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or processing job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Manager.Cancel(ctx, args[0], jobsUser)
		if err != nil {
			return err
		}
		fmt.Printf("job %s is %s\n", job.ID, job.Status)
		return nil
	},
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete terminal jobs older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Manager.Cleanup(ctx, jobsRetention)
		if err != nil {
			return err
		}
		fmt.Printf("%d job(s) removed\n", n)
		return nil
	},
}

func init() {
	jobsCmd.PersistentFlags().StringVar(&jobsUser, "user", "cli", "acting user id")
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 50, "max jobs to list")
	jobsCleanupCmd.Flags().DurationVar(&jobsRetention, "retention", 90*24*time.Hour, "retention window")

	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd, jobsCancelCmd, jobsCleanupCmd)
	rootCmd.AddCommand(jobsCmd)
}
