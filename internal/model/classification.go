package model

import "time"

// Category names assigned by the classification engine. The engine is
// rule-driven, so arbitrary categories may appear; these are the ones the
// default rule set produces.
const (
	CategoryUnclassified = "unclassified"
	RuleNone             = "none"
)

// ClassificationResult is the category assigned to a single metadata record.
// One result per record; reclassification overwrites the prior result.
type ClassificationResult struct {
	RecordID     string    `json:"record_id"`
	Category     string    `json:"category"`
	Confidence   float64   `json:"confidence"`
	RuleID       string    `json:"rule_id"`
	ClassifiedAt time.Time `json:"classified_at"`
}
