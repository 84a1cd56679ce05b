package classify

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Predicate is the matching condition of a rule. All set fields must match
// (AND semantics); zero fields are ignored.
type Predicate struct {
	Provider            string   `yaml:"provider,omitempty"`
	ResourceType        string   `yaml:"resource_type,omitempty"`
	ResourceTypePattern string   `yaml:"resource_type_pattern,omitempty"`
	MinCost             *float64 `yaml:"min_cost,omitempty"`
	MaxCost             *float64 `yaml:"max_cost,omitempty"`
	MaxUsage            *float64 `yaml:"max_usage,omitempty"`
	TagKey              string   `yaml:"tag_key,omitempty"`
	TagValue            string   `yaml:"tag_value,omitempty"` // requires tag_key; presence-only when empty
}

// Rule maps a predicate to a category with a base confidence. Rules are
// plain values; evaluation order is the configured list order.
type Rule struct {
	ID         string    `yaml:"id"`
	Category   string    `yaml:"category"`
	Confidence float64   `yaml:"confidence"`
	Match      Predicate `yaml:"match"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a rule list from a YAML file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: read rules %s", path)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "classify: parse rules %s", path)
	}
	if len(f.Rules) == 0 {
		return nil, eris.Errorf("classify: no rules in %s", path)
	}
	return f.Rules, nil
}

func f64(v float64) *float64 { return &v }

// DefaultRules is the built-in rule set used when no rules file is
// configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:         "high-cost-prod",
			Category:   "high-cost-prod",
			Confidence: 0.9,
			Match:      Predicate{TagKey: "environment", TagValue: "prod", MinCost: f64(50)},
		},
		{
			ID:         "high-cost-production",
			Category:   "high-cost-prod",
			Confidence: 0.9,
			Match:      Predicate{TagKey: "environment", TagValue: "production", MinCost: f64(50)},
		},
		{
			ID:         "low-utilization-compute",
			Category:   "low-utilization",
			Confidence: 0.8,
			Match:      Predicate{ResourceTypePattern: `^(vm|compute|instance)`, MaxUsage: f64(100)},
		},
		{
			ID:         "cold-storage",
			Category:   "cold-storage-candidate",
			Confidence: 0.75,
			Match:      Predicate{ResourceTypePattern: `^(storage|bucket|blob|object)`, MaxUsage: f64(10)},
		},
		{
			ID:         "tagged-duplicate",
			Category:   "multi-provider-duplicate",
			Confidence: 0.85,
			Match:      Predicate{TagKey: "duplicate_of"},
		},
		{
			ID:         "idle-dev",
			Category:   "idle-dev",
			Confidence: 0.6,
			Match:      Predicate{TagKey: "environment", TagValue: "dev", MaxCost: f64(25)},
		},
	}
}
