package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sightline-analytics/costlens/internal/resilience"
)

func fastWorkerOptions() WorkerOptions {
	return WorkerOptions{
		PollInterval: 5 * time.Millisecond,
		TaskTimeout:  time.Second,
		MaxAttempts:  3,
		Lease:        time.Minute,
		Backoff: resilience.Policy{
			BaseDelay:      time.Millisecond,
			MaxDelay:       5 * time.Millisecond,
			Multiplier:     2.0,
			JitterFraction: 0,
		},
	}
}

func TestWorker_CompletesTask(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan string, 1)
	w := NewWorker(q, fastWorkerOptions())
	w.Register("extract", 1, func(ctx context.Context, task Task) error {
		done <- task.ID
		return nil
	})

	id, err := q.Enqueue(ctx, "extract", map[string]string{"job_id": "job-1"})
	require.NoError(t, err)

	go func() { _ = w.Run(ctx) }()

	select {
	case got := <-done:
		assert.Equal(t, id, got)
	case <-time.After(2 * time.Second):
		t.Fatal("task was never handled")
	}

	require.Eventually(t, func() bool {
		st, _ := q.Status(id)
		return st == StatusDone
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWorker_RetriesThenSucceeds(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	w := NewWorker(q, fastWorkerOptions())
	w.Register("extract", 1, func(ctx context.Context, task Task) error {
		if calls.Add(1) < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	id, err := q.Enqueue(ctx, "extract", nil)
	require.NoError(t, err)

	go func() { _ = w.Run(ctx) }()

	require.Eventually(t, func() bool {
		st, _ := q.Status(id)
		return st == StatusDone
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWorker_FailsAfterMaxAttempts(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	w := NewWorker(q, fastWorkerOptions())
	w.Register("extract", 1, func(ctx context.Context, task Task) error {
		calls.Add(1)
		return errors.New("always broken")
	})

	id, err := q.Enqueue(ctx, "extract", nil)
	require.NoError(t, err)

	go func() { _ = w.Run(ctx) }()

	require.Eventually(t, func() bool {
		st, _ := q.Status(id)
		return st == StatusFailed
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	w := NewWorker(q, fastWorkerOptions())
	w.Register("extract", 2, func(ctx context.Context, task Task) error { return nil })

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
