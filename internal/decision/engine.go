// Package decision turns flagged, classified records into optimization
// recommendations and owns the decision review lifecycle.
package decision

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sightline-analytics/costlens/internal/config"
	"github.com/sightline-analytics/costlens/internal/cost"
	"github.com/sightline-analytics/costlens/internal/model"
	"github.com/sightline-analytics/costlens/internal/queue"
	"github.com/sightline-analytics/costlens/internal/store"
)

// Engine generates decisions keyed by (resource id, billing period start).
// Reprocessing the same key updates the pending decision in place; a decision
// a human already reviewed is never touched.
type Engine struct {
	store store.Store
	queue queue.Queue
	cfg   config.DecisionConfig
}

// NewEngine builds the decision engine.
func NewEngine(st store.Store, q queue.Queue, cfg config.DecisionConfig) *Engine {
	return &Engine{store: st, queue: q, cfg: cfg}
}

// Process consumes one classified, cost-compared record. When the comparison
// raised no flag nothing happens and any existing pending decision for the
// key stays as it is.
func (e *Engine) Process(ctx context.Context, record model.MetadataRecord, result model.ClassificationResult, cmp cost.Comparison) error {
	if !cmp.Flagged {
		return nil
	}

	recommendation, ok := e.cfg.Recommendations[result.Category]
	if !ok {
		recommendation = model.RecommendationReview
	}
	factor, ok := e.cfg.SavingsFactors[recommendation]
	if !ok {
		factor = e.cfg.DefaultSavingsFactor
	}

	d, outcome, err := e.store.UpsertDecision(ctx, model.Decision{
		ID:               uuid.NewString(),
		UserID:           record.UserID,
		JobID:            record.JobID,
		ResourceID:       record.ResourceID,
		PeriodStart:      record.PeriodStart,
		Category:         result.Category,
		RuleID:           result.RuleID,
		Recommendation:   recommendation,
		EstimatedSavings: record.CostAmount * factor,
		CostDelta:        cmp.Delta,
		Status:           model.DecisionStatusPending,
	})
	if err != nil {
		return err
	}

	switch outcome {
	case store.DecisionCreated:
		return e.enqueueDelivery(ctx, d.ID, model.EventDecisionCreated)
	case store.DecisionUpdated:
		return e.enqueueDelivery(ctx, d.ID, model.EventDecisionUpdated)
	default:
		zap.L().Debug("decision already reviewed, leaving untouched",
			zap.String("decision_id", d.ID),
			zap.String("resource_id", record.ResourceID),
		)
		return nil
	}
}

// Approve moves a pending decision to approved. Approving an already
// approved decision is an idempotent no-op; moving from dismissed is
// rejected.
func (e *Engine) Approve(ctx context.Context, decisionID, userID string) (*model.Decision, error) {
	return e.review(ctx, decisionID, userID, model.DecisionStatusApproved, model.EventDecisionApproved)
}

// Dismiss moves a pending decision to dismissed, with the same idempotency
// rules as Approve.
func (e *Engine) Dismiss(ctx context.Context, decisionID, userID string) (*model.Decision, error) {
	return e.review(ctx, decisionID, userID, model.DecisionStatusDismissed, model.EventDecisionDismissed)
}

func (e *Engine) review(ctx context.Context, decisionID, userID string, target model.DecisionStatus, eventType string) (*model.Decision, error) {
	d, err := e.Get(ctx, decisionID, userID)
	if err != nil {
		return nil, err
	}
	if d.Status == target {
		return d, nil
	}
	if d.Status.Terminal() {
		return nil, model.NewInvalidStateError("decision %s is %s and cannot move to %s", decisionID, d.Status, target)
	}

	ok, err := e.store.UpdateDecisionStatus(ctx, decisionID, model.DecisionStatusPending, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with a concurrent review; report the state that won.
		d, err = e.store.GetDecision(ctx, decisionID)
		if err != nil {
			return nil, err
		}
		if d.Status == target {
			return d, nil
		}
		return nil, model.NewInvalidStateError("decision %s is %s and cannot move to %s", decisionID, d.Status, target)
	}

	if err := e.enqueueDelivery(ctx, decisionID, eventType); err != nil {
		return nil, err
	}
	zap.L().Info("decision reviewed",
		zap.String("decision_id", decisionID),
		zap.String("status", string(target)),
	)
	return e.store.GetDecision(ctx, decisionID)
}

// Get returns one decision scoped to the owning user.
func (e *Engine) Get(ctx context.Context, decisionID, userID string) (*model.Decision, error) {
	d, err := e.store.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if d.UserID != userID {
		return nil, model.NewNotFoundError("decision", decisionID)
	}
	return d, nil
}

// List returns decisions matching the filter.
func (e *Engine) List(ctx context.Context, filter store.DecisionFilter) ([]model.Decision, error) {
	return e.store.ListDecisions(ctx, filter)
}

// Stats aggregates the user's decisions.
func (e *Engine) Stats(ctx context.Context, userID string) (*store.DecisionStats, error) {
	return e.store.GetDecisionStats(ctx, userID)
}

func (e *Engine) enqueueDelivery(ctx context.Context, decisionID, eventType string) error {
	_, err := e.queue.Enqueue(ctx, queue.KindDeliver, queue.DeliverPayload{
		DecisionID: decisionID,
		EventType:  eventType,
	})
	if err != nil {
		return eris.Wrap(err, "decision: enqueue delivery task")
	}
	return nil
}
