package pipeline

import (
	"context"

	"github.com/sightline-analytics/costlens/internal/config"
	"github.com/sightline-analytics/costlens/internal/queue"
	"github.com/sightline-analytics/costlens/internal/resilience"
)

// Runner owns the per-stage worker pools.
type Runner struct {
	worker *queue.Worker
}

// NewRunner registers the stage handlers on a queue worker sized from
// configuration. The deliver pool parallelizes across decisions; within one
// worker process the dispatcher's per-decision lock keeps same-decision
// deliveries sequential.
func NewRunner(q queue.Queue, stages *Stages, cfg config.QueueConfig) *Runner {
	w := queue.NewWorker(q, queue.WorkerOptions{
		PollInterval: cfg.PollInterval,
		TaskTimeout:  cfg.TaskTimeout,
		MaxAttempts:  cfg.MaxTaskAttempts,
		Lease:        cfg.ClaimLease,
		Backoff: resilience.Policy{
			BaseDelay:      cfg.PollInterval,
			Multiplier:     2.0,
			JitterFraction: 0.25,
		},
	})
	w.Register(queue.KindExtract, cfg.ExtractWorkers, stages.HandleExtract)
	w.Register(queue.KindAnalyze, cfg.AnalyzeWorkers, stages.HandleAnalyze)
	w.Register(queue.KindDeliver, cfg.DeliverWorkers, stages.HandleDeliver)
	return &Runner{worker: w}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	return r.worker.Run(ctx)
}
