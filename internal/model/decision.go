package model

import "time"

// DecisionStatus represents the review state of an optimization decision.
type DecisionStatus string

const (
	DecisionStatusPending   DecisionStatus = "pending"
	DecisionStatusApproved  DecisionStatus = "approved"
	DecisionStatusDismissed DecisionStatus = "dismissed"
)

// Terminal reports whether the decision has been reviewed.
func (s DecisionStatus) Terminal() bool {
	return s == DecisionStatusApproved || s == DecisionStatusDismissed
}

// Recommendation types produced by the decision engine.
const (
	RecommendationRightsizing = "rightsizing"
	RecommendationArchive     = "archive"
	RecommendationTierSwitch  = "tier-switch"
	RecommendationReview      = "review"
)

// Decision is a generated cost-optimization recommendation. Decisions are
// unique per (resource id, billing period start); reprocessing the same
// resource and period updates the existing row.
type Decision struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	JobID            string         `json:"job_id"`
	ResourceID       string         `json:"resource_id"`
	PeriodStart      time.Time      `json:"period_start"`
	Category         string         `json:"category"`
	RuleID           string         `json:"rule_id"`
	Recommendation   string         `json:"recommendation"`
	EstimatedSavings float64        `json:"estimated_savings"`
	CostDelta        float64        `json:"cost_delta"`
	Status           DecisionStatus `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Decision event types carried in webhook payloads.
const (
	EventDecisionCreated   = "decision.created"
	EventDecisionUpdated   = "decision.updated"
	EventDecisionApproved  = "decision.approved"
	EventDecisionDismissed = "decision.dismissed"
)

// DecisionEvent is the webhook payload delivered to external consumers.
// IdempotencyKey is stable across retries of the same event and changes only
// when the underlying decision state changes.
type DecisionEvent struct {
	EventType        string    `json:"event_type"`
	DecisionID       string    `json:"decision_id"`
	ResourceID       string    `json:"resource_id"`
	Category         string    `json:"category"`
	Recommendation   string    `json:"recommendation_type"`
	EstimatedSavings float64   `json:"estimated_savings"`
	IdempotencyKey   string    `json:"idempotency_key"`
	Timestamp        time.Time `json:"timestamp"`
}

// WebhookLogEntry records a single delivery attempt. Entries are append-only.
type WebhookLogEntry struct {
	ID         string    `json:"id"`
	DecisionID string    `json:"decision_id"`
	Attempt    int       `json:"attempt"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DeadLetter is a webhook event that exhausted its retry budget and requires
// manual handling. Dead-lettering never affects the originating decision.
type DeadLetter struct {
	ID         string    `json:"id"`
	DecisionID string    `json:"decision_id"`
	EventType  string    `json:"event_type"`
	Payload    []byte    `json:"payload"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
	CreatedAt  time.Time `json:"created_at"`
}
