package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/sightline-analytics/costlens/internal/model"
)

// BuildEvent assembles the webhook payload for a decision event.
func BuildEvent(d *model.Decision, eventType, secret string) model.DecisionEvent {
	return model.DecisionEvent{
		EventType:        eventType,
		DecisionID:       d.ID,
		ResourceID:       d.ResourceID,
		Category:         d.Category,
		Recommendation:   d.Recommendation,
		EstimatedSavings: d.EstimatedSavings,
		IdempotencyKey:   IdempotencyKey(secret, d.ID, eventType),
		Timestamp:        time.Now().UTC(),
	}
}

// IdempotencyKey derives the consumer-side dedupe key for a decision event.
// It is stable across retries of the same event and changes when the
// decision moves to a new state (the event type changes).
func IdempotencyKey(secret, decisionID, eventType string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(decisionID + ":" + eventType))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign computes the hex HMAC-SHA256 signature carried in the
// X-Webhook-Signature header.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
