package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dlqLimit int

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect dead-lettered webhook events",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		letters, err := env.Store.ListDeadLetters(ctx, dlqLimit)
		if err != nil {
			return err
		}

		for _, dl := range letters {
			fmt.Printf("%s  decision=%s  event=%s  attempts=%d  %s\n",
				dl.ID, dl.DecisionID, dl.EventType, dl.Attempts, dl.LastError)
		}

		total, err := env.Store.CountDeadLetters(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d of %d dead letter(s)\n", len(letters), total)
		return nil
	},
}

var dlqRemoveCmd = &cobra.Command{
	Use:   "rm <dead-letter-id>",
	Short: "Remove a dead letter after manual handling",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.RemoveDeadLetter(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("dead letter %s removed\n", args[0])
		return nil
	},
}

func init() {
	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 50, "max dead letters to list")
	dlqCmd.AddCommand(dlqListCmd, dlqRemoveCmd)
	rootCmd.AddCommand(dlqCmd)
}
