// Package cost compares record costs to configured benchmarks and flags
// records whose cost exceeds the expected range by a category threshold.
package cost

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sightline-analytics/costlens/internal/model"
)

// BenchmarkSource looks up the benchmark for a resource key. A nil result
// with nil error means no benchmark covers the key.
type BenchmarkSource interface {
	GetBenchmark(ctx context.Context, provider, resourceType, region string) (*model.Benchmark, error)
}

// Comparison is the outcome of comparing one record against its benchmark.
type Comparison struct {
	Flagged    bool    `json:"flagged"`
	Delta      float64 `json:"delta"`      // signed cost - midpoint; 0 without a benchmark
	Percentile float64 `json:"percentile"` // position of cost within [min,max], clamped to [0,1]
}

// Comparator flags records whose cost sits above the benchmark midpoint by
// more than the category's threshold.
type Comparator struct {
	benchmarks       BenchmarkSource
	defaultThreshold float64
	thresholds       map[string]float64
}

// NewComparator creates a Comparator. thresholds maps classification
// categories to flag thresholds; categories without an entry use
// defaultThreshold.
func NewComparator(benchmarks BenchmarkSource, defaultThreshold float64, thresholds map[string]float64) *Comparator {
	return &Comparator{
		benchmarks:       benchmarks,
		defaultThreshold: defaultThreshold,
		thresholds:       thresholds,
	}
}

// Compare looks up the record's benchmark and computes the flag decision.
// A missing benchmark is not an error: the record simply is not flagged.
func (c *Comparator) Compare(ctx context.Context, record model.MetadataRecord, category string) (Comparison, error) {
	b, err := c.benchmarks.GetBenchmark(ctx, record.Provider, record.ResourceType, record.Region)
	if err != nil {
		return Comparison{}, eris.Wrap(err, "cost: benchmark lookup")
	}
	if b == nil {
		zap.L().Debug("benchmark missing",
			zap.String("record_id", record.ID),
			zap.String("provider", record.Provider),
			zap.String("resource_type", record.ResourceType),
			zap.String("region", record.Region),
		)
		return Comparison{}, nil
	}

	delta := record.CostAmount - b.Midpoint()

	threshold, ok := c.thresholds[category]
	if !ok {
		threshold = c.defaultThreshold
	}

	return Comparison{
		Flagged:    delta > threshold,
		Delta:      delta,
		Percentile: percentile(record.CostAmount, b.MinCost, b.MaxCost),
	}, nil
}

func percentile(cost, min, max float64) float64 {
	if max <= min {
		return 0
	}
	p := (cost - min) / (max - min)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
