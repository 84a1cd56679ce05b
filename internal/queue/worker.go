package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sightline-analytics/costlens/internal/resilience"
)

// Handler processes one claimed task. A nil return completes the task; an
// error reschedules it until the attempt budget is spent, then fails it.
type Handler func(ctx context.Context, task Task) error

// WorkerOptions tunes the polling worker pools.
type WorkerOptions struct {
	PollInterval time.Duration
	TaskTimeout  time.Duration
	MaxAttempts  int
	Lease        time.Duration
	Backoff      resilience.Policy
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = 5 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Lease <= 0 {
		o.Lease = 10 * time.Minute
	}
	if o.Backoff.BaseDelay <= 0 {
		o.Backoff = resilience.Policy{
			BaseDelay:      2 * time.Second,
			MaxDelay:       2 * time.Minute,
			Multiplier:     2.0,
			JitterFraction: 0.25,
		}
	}
	return o
}

type workerPool struct {
	kind        string
	concurrency int
	handler     Handler
}

// Worker polls the queue and dispatches tasks to registered handlers, one
// goroutine pool per task kind.
type Worker struct {
	queue Queue
	opts  WorkerOptions
	pools []workerPool
}

// NewWorker creates a Worker on the given queue.
func NewWorker(q Queue, opts WorkerOptions) *Worker {
	return &Worker{queue: q, opts: opts.withDefaults()}
}

// Register adds a handler for a task kind with the given pool size.
func (w *Worker) Register(kind string, concurrency int, h Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	w.pools = append(w.pools, workerPool{kind: kind, concurrency: concurrency, handler: h})
}

// Run blocks until ctx is cancelled, polling the queue for each registered
// kind and recovering stale claims in the background.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, p := range w.pools {
		for i := 0; i < p.concurrency; i++ {
			g.Go(func() error {
				return w.poll(ctx, p.kind, p.handler)
			})
		}
	}

	g.Go(func() error {
		return w.releaseStaleLoop(ctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) poll(ctx context.Context, kind string, h Handler) error {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		// Drain all due tasks before sleeping.
		for {
			tasks, err := w.queue.Claim(ctx, kind, 1)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				zap.L().Error("task claim failed", zap.String("kind", kind), zap.Error(err))
				break
			}
			if len(tasks) == 0 {
				break
			}
			w.runTask(ctx, tasks[0], h)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) runTask(ctx context.Context, task Task, h Handler) {
	taskCtx, cancel := context.WithTimeout(ctx, w.opts.TaskTimeout)
	err := h(taskCtx, task)
	cancel()

	if err == nil {
		if cErr := w.queue.Complete(ctx, task.ID); cErr != nil {
			zap.L().Error("task complete failed", zap.String("task_id", task.ID), zap.Error(cErr))
		}
		return
	}

	if task.Attempts >= w.opts.MaxAttempts {
		zap.L().Error("task failed permanently",
			zap.String("task_id", task.ID),
			zap.String("kind", task.Kind),
			zap.Int("attempts", task.Attempts),
			zap.Error(err),
		)
		if fErr := w.queue.Fail(ctx, task.ID, err.Error()); fErr != nil {
			zap.L().Error("task fail write failed", zap.String("task_id", task.ID), zap.Error(fErr))
		}
		return
	}

	delay := resilience.Backoff(w.opts.Backoff, task.Attempts)
	zap.L().Warn("task attempt failed, rescheduling",
		zap.String("task_id", task.ID),
		zap.String("kind", task.Kind),
		zap.Int("attempt", task.Attempts),
		zap.Duration("delay", delay),
		zap.Error(err),
	)
	if rErr := w.queue.Retry(ctx, task.ID, delay, err.Error()); rErr != nil {
		zap.L().Error("task retry write failed", zap.String("task_id", task.ID), zap.Error(rErr))
	}
}

func (w *Worker) releaseStaleLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.Lease / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := w.queue.ReleaseStale(ctx, w.opts.Lease)
			if err != nil {
				zap.L().Error("stale task release failed", zap.Error(err))
				continue
			}
			if n > 0 {
				zap.L().Warn("released stale tasks", zap.Int("count", n))
			}
		}
	}
}
