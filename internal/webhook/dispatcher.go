package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sightline-analytics/costlens/internal/config"
	"github.com/sightline-analytics/costlens/internal/model"
	"github.com/sightline-analytics/costlens/internal/resilience"
)

// Headers carried on every delivery.
const (
	headerSignature = "X-Webhook-Signature"
	headerEvent     = "X-Webhook-Event"
	headerVersion   = "X-Webhook-Version"

	payloadVersion = "1.0"
)

// LogStore persists delivery attempt logs and dead letters.
type LogStore interface {
	AppendWebhookLog(ctx context.Context, entry model.WebhookLogEntry) error
	AddDeadLetter(ctx context.Context, dl model.DeadLetter) error
}

// Dispatcher delivers decision events to the configured webhook endpoint with
// retries and exponential backoff. Deliveries for different decisions run
// concurrently; deliveries for the same decision are serialized so a consumer
// never sees interleaved attempts for one decision. Delivery is
// at-least-once: consumers dedupe on the event's idempotency key.
type Dispatcher struct {
	cfg     config.WebhookConfig
	store   LogStore
	client  *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	inflight map[string]*decisionLock
}

type decisionLock struct {
	sync.Mutex
	refs int
}

// NewDispatcher builds a dispatcher from webhook configuration.
func NewDispatcher(cfg config.WebhookConfig, logs LogStore) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		store:    logs,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		inflight: make(map[string]*decisionLock),
	}
}

// acquire blocks until no other delivery for the decision is in flight.
func (d *Dispatcher) acquire(decisionID string) *decisionLock {
	d.mu.Lock()
	l, ok := d.inflight[decisionID]
	if !ok {
		l = &decisionLock{}
		d.inflight[decisionID] = l
	}
	l.refs++
	d.mu.Unlock()

	l.Lock()
	return l
}

func (d *Dispatcher) release(decisionID string, l *decisionLock) {
	l.Unlock()

	d.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(d.inflight, decisionID)
	}
	d.mu.Unlock()
}

// Dispatch delivers a single event for the given decision. Every attempt,
// successful or not, is recorded in the decision's delivery log. When the
// retry budget is exhausted the event is dead-lettered; the decision itself
// is never modified.
func (d *Dispatcher) Dispatch(ctx context.Context, dec *model.Decision, eventType string) error {
	if d.cfg.URL == "" {
		zap.L().Debug("webhook url not configured, skipping delivery",
			zap.String("decision_id", dec.ID),
			zap.String("event", eventType),
		)
		return nil
	}

	l := d.acquire(dec.ID)
	defer d.release(dec.ID, l)

	event := BuildEvent(dec, eventType, d.cfg.Secret)
	body, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "webhook: marshal event")
	}
	signature := Sign(d.cfg.Secret, body)

	policy := resilience.Policy{
		MaxAttempts: d.cfg.MaxAttempts,
		BaseDelay:   d.cfg.BaseDelay,
		Multiplier:  d.cfg.Multiplier,
		OnAttempt: func(attempt int, attemptErr error) {
			d.logAttempt(ctx, dec.ID, attempt, attemptErr)
		},
	}

	var attempts int
	err = resilience.Do(ctx, policy, func(ctx context.Context) error {
		attempts++
		return d.send(ctx, eventType, body, signature)
	})
	if err == nil {
		zap.L().Info("webhook delivered",
			zap.String("decision_id", dec.ID),
			zap.String("event", eventType),
			zap.Int("attempts", attempts),
		)
		return nil
	}

	dl := model.DeadLetter{
		ID:         uuid.NewString(),
		DecisionID: dec.ID,
		EventType:  eventType,
		Payload:    body,
		Attempts:   attempts,
		LastError:  err.Error(),
		CreatedAt:  time.Now().UTC(),
	}
	if dlErr := d.store.AddDeadLetter(ctx, dl); dlErr != nil {
		return eris.Wrap(dlErr, "webhook: dead-letter event")
	}
	zap.L().Error("webhook delivery exhausted, event dead-lettered",
		zap.String("decision_id", dec.ID),
		zap.String("event", eventType),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return nil
}

func (d *Dispatcher) send(ctx context.Context, eventType string, body []byte, signature string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "webhook: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "webhook: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerSignature, signature)
	req.Header.Set(headerEvent, eventType)
	req.Header.Set(headerVersion, payloadVersion)

	resp, err := d.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "webhook: post"), 0)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	// Every non-2xx response is retried per the backoff policy.
	return resilience.NewTransientError(
		model.NewWebhookDeliveryError("endpoint returned status %d", resp.StatusCode),
		resp.StatusCode,
	)
}

func (d *Dispatcher) logAttempt(ctx context.Context, decisionID string, attempt int, attemptErr error) {
	entry := model.WebhookLogEntry{
		ID:         uuid.NewString(),
		DecisionID: decisionID,
		Attempt:    attempt,
		Success:    attemptErr == nil,
		CreatedAt:  time.Now().UTC(),
	}
	if attemptErr != nil {
		entry.Error = attemptErr.Error()
		var te *resilience.TransientError
		if eris.As(attemptErr, &te) {
			entry.StatusCode = te.StatusCode
		}
	} else {
		entry.StatusCode = http.StatusOK
	}
	if err := d.store.AppendWebhookLog(ctx, entry); err != nil {
		zap.L().Warn("append webhook log failed",
			zap.String("decision_id", decisionID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
