package model

// Benchmark is a reference expected-cost range for a
// (provider, resource type[, region]) combination. Read-only data consulted
// by the cost comparator.
type Benchmark struct {
	Provider     string  `json:"provider" yaml:"provider"`
	ResourceType string  `json:"resource_type" yaml:"resource_type"`
	Region       string  `json:"region,omitempty" yaml:"region,omitempty"`
	MinCost      float64 `json:"min_cost" yaml:"min_cost"`
	MaxCost      float64 `json:"max_cost" yaml:"max_cost"`
}

// Midpoint returns the center of the expected cost range.
func (b Benchmark) Midpoint() float64 {
	return (b.MinCost + b.MaxCost) / 2
}
