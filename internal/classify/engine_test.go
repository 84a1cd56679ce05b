package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sightline-analytics/costlens/internal/model"
)

func prodAwsRules() []Rule {
	return []Rule{
		{
			ID:         "high-cost-prod",
			Category:   "high-cost-prod",
			Confidence: 0.9,
			Match:      Predicate{TagKey: "env", TagValue: "prod", MinCost: f64(50)},
		},
		{
			ID:         "generic-aws",
			Category:   "generic-aws",
			Confidence: 0.5,
			Match:      Predicate{Provider: "aws"},
		},
	}
}

func TestRuleEngine_HighestConfidenceWins(t *testing.T) {
	e, err := NewRuleEngine(prodAwsRules())
	require.NoError(t, err)

	// both rules match; the 0.9 one wins
	res := e.Classify(model.MetadataRecord{
		ID:         "rec-1",
		Provider:   "aws",
		CostAmount: 75,
		Tags:       map[string]string{"env": "prod"},
	})
	assert.Equal(t, "high-cost-prod", res.Category)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, "high-cost-prod", res.RuleID)

	// without the tag only the provider rule matches
	res = e.Classify(model.MetadataRecord{
		ID:         "rec-2",
		Provider:   "aws",
		CostAmount: 75,
	})
	assert.Equal(t, "generic-aws", res.Category)
	assert.Equal(t, 0.5, res.Confidence)
}

func TestRuleEngine_NoMatchIsUnclassified(t *testing.T) {
	e, err := NewRuleEngine(prodAwsRules())
	require.NoError(t, err)

	res := e.Classify(model.MetadataRecord{ID: "rec-3", Provider: "gcp", CostAmount: 10})
	assert.Equal(t, model.CategoryUnclassified, res.Category)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Equal(t, model.RuleNone, res.RuleID)
	assert.Equal(t, "rec-3", res.RecordID)
}

func TestRuleEngine_TieBrokenByPosition(t *testing.T) {
	e, err := NewRuleEngine([]Rule{
		{ID: "first", Category: "cat-a", Confidence: 0.7, Match: Predicate{Provider: "aws"}},
		{ID: "second", Category: "cat-b", Confidence: 0.7, Match: Predicate{ResourceType: "vm"}},
	})
	require.NoError(t, err)

	res := e.Classify(model.MetadataRecord{Provider: "aws", ResourceType: "vm"})
	assert.Equal(t, "first", res.RuleID)
	assert.Equal(t, "cat-a", res.Category)
}

func TestRuleEngine_CostBoundaryIsExclusive(t *testing.T) {
	e, err := NewRuleEngine(prodAwsRules())
	require.NoError(t, err)

	// cost exactly at the threshold does not match cost>50
	res := e.Classify(model.MetadataRecord{
		Provider:   "aws",
		CostAmount: 50,
		Tags:       map[string]string{"env": "prod"},
	})
	assert.Equal(t, "generic-aws", res.Category)
}

func TestRuleEngine_ResourceTypePattern(t *testing.T) {
	e, err := NewRuleEngine([]Rule{
		{ID: "compute", Category: "low-utilization", Confidence: 0.8,
			Match: Predicate{ResourceTypePattern: `^(vm|compute)`, MaxUsage: f64(100)}},
	})
	require.NoError(t, err)

	res := e.Classify(model.MetadataRecord{ResourceType: "Compute_Instance", UsageQuantity: 12})
	assert.Equal(t, "low-utilization", res.Category)

	res = e.Classify(model.MetadataRecord{ResourceType: "Compute_Instance", UsageQuantity: 500})
	assert.Equal(t, model.CategoryUnclassified, res.Category)
}

func TestRuleEngine_TagPresenceOnly(t *testing.T) {
	e, err := NewRuleEngine([]Rule{
		{ID: "dup", Category: "multi-provider-duplicate", Confidence: 0.85,
			Match: Predicate{TagKey: "duplicate_of"}},
	})
	require.NoError(t, err)

	res := e.Classify(model.MetadataRecord{Tags: map[string]string{"Duplicate_Of": "i-99"}})
	assert.Equal(t, "multi-provider-duplicate", res.Category)
}

func TestRuleEngine_Reclassification(t *testing.T) {
	e, err := NewRuleEngine(prodAwsRules())
	require.NoError(t, err)

	rec := model.MetadataRecord{ID: "rec-1", Provider: "aws", CostAmount: 75}
	first := e.Classify(rec)
	second := e.Classify(rec)
	assert.Equal(t, first.Category, second.Category)
	assert.Equal(t, first.RuleID, second.RuleID)
}

func TestNewRuleEngine_Validation(t *testing.T) {
	_, err := NewRuleEngine(nil)
	assert.Error(t, err)

	_, err = NewRuleEngine([]Rule{{ID: "bad", Category: "c", Confidence: 1.5}})
	assert.Error(t, err)

	_, err = NewRuleEngine([]Rule{{ID: "bad", Category: "c", Confidence: 0.5,
		Match: Predicate{ResourceTypePattern: `([`}}})
	assert.Error(t, err)

	_, err = NewRuleEngine([]Rule{{ID: "nocat", Confidence: 0.5}})
	assert.Error(t, err)
}

func TestLoadRules_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
rules:
  - id: high-cost-prod
    category: high-cost-prod
    confidence: 0.9
    match:
      tag_key: env
      tag_value: prod
      min_cost: 50
  - id: generic-aws
    category: generic-aws
    confidence: 0.5
    match:
      provider: aws
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "high-cost-prod", rules[0].ID)
	require.NotNil(t, rules[0].Match.MinCost)
	assert.Equal(t, 50.0, *rules[0].Match.MinCost)

	e, err := NewRuleEngine(rules)
	require.NoError(t, err)
	res := e.Classify(model.MetadataRecord{Provider: "aws", CostAmount: 75, Tags: map[string]string{"env": "prod"}})
	assert.Equal(t, "high-cost-prod", res.Category)
}

func TestLoadRules_Missing(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultRules_Valid(t *testing.T) {
	e, err := NewRuleEngine(DefaultRules())
	require.NoError(t, err)

	res := e.Classify(model.MetadataRecord{
		ResourceType:  "storage_bucket",
		UsageQuantity: 2,
	})
	assert.Equal(t, "cold-storage-candidate", res.Category)
}
