package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sightline-analytics/costlens/internal/pipeline"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the pipeline stage workers",
	Long:  "Claims extract, analyze, and deliver tasks from the queue and runs them in bounded per-stage pools until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("workers starting",
			zap.Int("extract", cfg.Queue.ExtractWorkers),
			zap.Int("analyze", cfg.Queue.AnalyzeWorkers),
			zap.Int("deliver", cfg.Queue.DeliverWorkers),
		)
		return pipeline.NewRunner(env.Queue, env.Stages, cfg.Queue).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
