package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sightline-analytics/costlens/internal/model"
	"github.com/sightline-analytics/costlens/internal/store"
)

var (
	decisionsUser   string
	decisionsStatus string
	decisionsLimit  int
)

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Review optimization decisions",
}

var decisionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		decisions, err := env.Engine.List(ctx, store.DecisionFilter{
			UserID: decisionsUser,
			Status: model.DecisionStatus(decisionsStatus),
			Limit:  decisionsLimit,
		})
		if err != nil {
			return err
		}

		for _, d := range decisions {
			fmt.Printf("%s  %-9s  %-12s  %-24s  savings=%.2f  %s\n",
				d.ID, d.Status, d.Recommendation, d.Category, d.EstimatedSavings, d.ResourceID)
		}

		stats, err := env.Engine.Stats(ctx, decisionsUser)
		if err != nil {
			return err
		}
		fmt.Printf("%d decision(s): %d pending, %d approved, %d dismissed; estimated savings %.2f\n",
			stats.Total, stats.Pending, stats.Approved, stats.Dismissed, stats.EstimatedSavings)
		return nil
	},
}

var decisionsApproveCmd = &cobra.Command{
	Use:   "approve <decision-id>",
	Short: "Approve a pending decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewDecision(cmd, args[0], true)
	},
}

var decisionsDismissCmd = &cobra.Command{
	Use:   "dismiss <decision-id>",
	Short: "Dismiss a pending decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewDecision(cmd, args[0], false)
	},
}

func reviewDecision(cmd *cobra.Command, decisionID string, approve bool) error {
	ctx := cmd.Context()

	env, err := initPipeline(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	var d *model.Decision
	if approve {
		d, err = env.Engine.Approve(ctx, decisionID, decisionsUser)
	} else {
		d, err = env.Engine.Dismiss(ctx, decisionID, decisionsUser)
	}
	if err != nil {
		return err
	}
	fmt.Printf("decision %s is %s\n", d.ID, d.Status)
	return nil
}

func init() {
	decisionsCmd.PersistentFlags().StringVar(&decisionsUser, "user", "cli", "acting user id")
	decisionsListCmd.Flags().StringVar(&decisionsStatus, "status", "", "filter by status")
	decisionsListCmd.Flags().IntVar(&decisionsLimit, "limit", 50, "max decisions to list")

	decisionsCmd.AddCommand(decisionsListCmd, decisionsApproveCmd, decisionsDismissCmd)
	rootCmd.AddCommand(decisionsCmd)
}
