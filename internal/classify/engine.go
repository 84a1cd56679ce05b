// Package classify assigns a cost-relevant category and confidence to each
// metadata record via an ordered list of predicate rules.
package classify

import (
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sightline-analytics/costlens/internal/model"
)

// Classifier assigns a category to a record. Implementations other than the
// rule engine (e.g. a statistical model) can be substituted without changing
// callers.
type Classifier interface {
	Classify(record model.MetadataRecord) model.ClassificationResult
}

// RuleEngine is the rule-based Classifier. Every rule is evaluated against
// the record; among matching rules the highest confidence wins, with ties
// broken by list position (earlier wins). A record no rule matches gets
// category "unclassified" with confidence 0.
type RuleEngine struct {
	rules    []Rule
	patterns []*regexp.Regexp // index-aligned with rules; nil when no pattern
}

// NewRuleEngine validates the rules and compiles resource-type patterns.
func NewRuleEngine(rules []Rule) (*RuleEngine, error) {
	if len(rules) == 0 {
		return nil, eris.New("classify: empty rule set")
	}

	patterns := make([]*regexp.Regexp, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			return nil, eris.Errorf("classify: rule %d has no id", i)
		}
		if r.Category == "" {
			return nil, eris.Errorf("classify: rule %s has no category", r.ID)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return nil, eris.Errorf("classify: rule %s confidence %v out of [0,1]", r.ID, r.Confidence)
		}
		if p := r.Match.ResourceTypePattern; p != "" {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, eris.Wrapf(err, "classify: rule %s pattern", r.ID)
			}
			patterns[i] = re
		}
	}

	return &RuleEngine{rules: rules, patterns: patterns}, nil
}

// Classify evaluates every rule and picks the best match.
func (e *RuleEngine) Classify(record model.MetadataRecord) model.ClassificationResult {
	best := -1
	for i, r := range e.rules {
		if !e.matches(i, r.Match, record) {
			continue
		}
		if best < 0 || r.Confidence > e.rules[best].Confidence {
			best = i
		}
	}

	result := model.ClassificationResult{
		RecordID:     record.ID,
		Category:     model.CategoryUnclassified,
		Confidence:   0,
		RuleID:       model.RuleNone,
		ClassifiedAt: time.Now().UTC(),
	}
	if best >= 0 {
		result.Category = e.rules[best].Category
		result.Confidence = e.rules[best].Confidence
		result.RuleID = e.rules[best].ID
	}
	return result
}

func (e *RuleEngine) matches(idx int, p Predicate, r model.MetadataRecord) bool {
	if p.Provider != "" && !strings.EqualFold(p.Provider, r.Provider) {
		return false
	}
	if p.ResourceType != "" && !strings.EqualFold(p.ResourceType, r.ResourceType) {
		return false
	}
	if re := e.patterns[idx]; re != nil && !re.MatchString(r.ResourceType) {
		return false
	}
	if p.MinCost != nil && r.CostAmount <= *p.MinCost {
		return false
	}
	if p.MaxCost != nil && r.CostAmount > *p.MaxCost {
		return false
	}
	if p.MaxUsage != nil && r.UsageQuantity > *p.MaxUsage {
		return false
	}
	if p.TagKey != "" {
		v, ok := r.Tag(p.TagKey)
		if !ok {
			return false
		}
		if p.TagValue != "" && !strings.EqualFold(v, p.TagValue) {
			return false
		}
	}
	return true
}
