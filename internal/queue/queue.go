// Package queue provides the durable task queue that decouples the pipeline
// stages. Tasks carry a kind plus an opaque JSON payload; workers claim
// tasks, run the registered handler, and either complete, reschedule, or
// fail them.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Task statuses.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Task is one unit of queued work.
type Task struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	RunAt     time.Time       `json:"run_at"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue is the durable task queue contract. Claim hands each task to exactly
// one worker; a claimed task must be resolved with Complete, Retry, or Fail.
type Queue interface {
	Enqueue(ctx context.Context, kind string, payload any) (string, error)
	// Claim atomically claims up to limit pending tasks of the given kind
	// that are due to run.
	Claim(ctx context.Context, kind string, limit int) ([]Task, error)
	Complete(ctx context.Context, taskID string) error
	// Retry reschedules a claimed task to run again after delay.
	Retry(ctx context.Context, taskID string, delay time.Duration, lastErr string) error
	// Fail marks a claimed task permanently failed.
	Fail(ctx context.Context, taskID string, lastErr string) error
	// ReleaseStale returns tasks stuck in running longer than lease to
	// pending, recovering from crashed workers.
	ReleaseStale(ctx context.Context, lease time.Duration) (int, error)
}

func marshalPayload(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "queue: marshal payload")
	}
	return data, nil
}
