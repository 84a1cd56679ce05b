package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sightline-analytics/costlens/internal/ingest"
)

var (
	submitSource string
	submitUser   string
)

var submitCmd = &cobra.Command{
	Use:   "submit <billing-file>",
	Short: "Submit a billing export for processing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open billing file")
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return eris.Wrap(err, "stat billing file")
		}

		job, err := env.Manager.Submit(ctx, submitUser, submitSource, info.Name(), f, info.Size())
		if err != nil {
			return err
		}

		fmt.Printf("job %s submitted (%s, %d bytes)\n", job.ID, job.Source, job.FileSize)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitSource, "source", ingest.SourceAuto, "source tag (auto, generic, aws_cur, gcp_billing, azure_usage)")
	submitCmd.Flags().StringVar(&submitUser, "user", "cli", "submitting user id")
	rootCmd.AddCommand(submitCmd)
}
