package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sightline-analytics/costlens/internal/model"
)

var benchmarksCmd = &cobra.Command{
	Use:   "benchmarks",
	Short: "Manage cost benchmarks",
}

var benchmarksLoadCmd = &cobra.Command{
	Use:   "load <file.yaml>",
	Short: "Seed benchmarks from a YAML file",
	Long:  "Loads reference expected-cost ranges. Existing (provider, resource_type, region) entries are updated in place.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read benchmark file")
		}

		var seed struct {
			Benchmarks []model.Benchmark `yaml:"benchmarks"`
		}
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return eris.Wrap(err, "parse benchmark file")
		}
		if len(seed.Benchmarks) == 0 {
			return eris.New("benchmark file contains no benchmarks")
		}
		for i, b := range seed.Benchmarks {
			if b.Provider == "" || b.ResourceType == "" {
				return eris.Errorf("benchmark %d: provider and resource_type are required", i)
			}
			if b.MaxCost < b.MinCost {
				return eris.Errorf("benchmark %d: max_cost below min_cost", i)
			}
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Store.UpsertBenchmarks(ctx, seed.Benchmarks)
		if err != nil {
			return err
		}
		fmt.Printf("%d benchmark(s) loaded\n", n)
		return nil
	},
}

func init() {
	benchmarksCmd.AddCommand(benchmarksLoadCmd)
	rootCmd.AddCommand(benchmarksCmd)
}
