// Package pipeline binds queue tasks to the processing stages. Handlers are
// idempotent: redelivered tasks are guarded by the job status machine and
// the decision keyed upsert.
package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sightline-analytics/costlens/internal/classify"
	"github.com/sightline-analytics/costlens/internal/cost"
	"github.com/sightline-analytics/costlens/internal/decision"
	"github.com/sightline-analytics/costlens/internal/ingest"
	"github.com/sightline-analytics/costlens/internal/model"
	"github.com/sightline-analytics/costlens/internal/queue"
	"github.com/sightline-analytics/costlens/internal/store"
	"github.com/sightline-analytics/costlens/internal/webhook"
)

// Stages wires the pipeline components behind the queue handlers.
type Stages struct {
	store      store.Store
	extractor  *ingest.Extractor
	classifier classify.Classifier
	comparator *cost.Comparator
	decisions  *decision.Engine
	dispatcher *webhook.Dispatcher

	// maxTaskAttempts mirrors the worker retry budget so the analyze stage
	// can fail the owning job when its task is out of retries.
	maxTaskAttempts int
}

// NewStages builds the stage handlers.
func NewStages(st store.Store, extractor *ingest.Extractor, classifier classify.Classifier, comparator *cost.Comparator, decisions *decision.Engine, dispatcher *webhook.Dispatcher, maxTaskAttempts int) *Stages {
	if maxTaskAttempts <= 0 {
		maxTaskAttempts = 3
	}
	return &Stages{
		store:           st,
		extractor:       extractor,
		classifier:      classifier,
		comparator:      comparator,
		decisions:       decisions,
		dispatcher:      dispatcher,
		maxTaskAttempts: maxTaskAttempts,
	}
}

// HandleExtract runs metadata extraction for one submitted job.
func (s *Stages) HandleExtract(ctx context.Context, task queue.Task) error {
	var p queue.ExtractPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return eris.Wrap(err, "pipeline: decode extract payload")
	}

	err := s.extractor.ProcessJob(ctx, p.JobID)
	if err != nil && task.Attempts >= s.maxTaskAttempts {
		s.failJob(ctx, p.JobID, err)
	}
	return err
}

// HandleAnalyze classifies, cost-compares, and decides over a job's records.
// Reclassification overwrites prior results, and decisions upsert by key, so
// redelivery is safe.
func (s *Stages) HandleAnalyze(ctx context.Context, task queue.Task) error {
	var p queue.AnalyzePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return eris.Wrap(err, "pipeline: decode analyze payload")
	}

	err := s.analyze(ctx, p.JobID)
	if err != nil && task.Attempts >= s.maxTaskAttempts {
		s.failJob(ctx, p.JobID, err)
	}
	return err
}

func (s *Stages) analyze(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !analyzable(job.Status) {
		zap.L().Info("job not analyzable, skipping",
			zap.String("job_id", jobID),
			zap.String("status", string(job.Status)),
		)
		return nil
	}

	records, err := s.store.ListRecordsByJob(ctx, jobID)
	if err != nil {
		return err
	}

	for _, record := range records {
		result := s.classifier.Classify(record)
		if err := s.store.SaveClassification(ctx, result); err != nil {
			return err
		}

		cmp, err := s.comparator.Compare(ctx, record, result.Category)
		if err != nil {
			return err
		}
		if err := s.decisions.Process(ctx, record, result, cmp); err != nil {
			return err
		}
	}

	zap.L().Info("job analyzed",
		zap.String("job_id", jobID),
		zap.Int("records", len(records)),
	)
	return nil
}

// HandleDeliver delivers one decision event. The dispatcher owns retries
// within an attempt budget and dead-letters on exhaustion, so a nil return
// here covers both delivered and dead-lettered events.
func (s *Stages) HandleDeliver(ctx context.Context, task queue.Task) error {
	var p queue.DeliverPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return eris.Wrap(err, "pipeline: decode deliver payload")
	}

	d, err := s.store.GetDecision(ctx, p.DecisionID)
	if err != nil {
		if model.IsKind(err, model.KindNotFound) {
			zap.L().Warn("decision gone before delivery", zap.String("decision_id", p.DecisionID))
			return nil
		}
		return err
	}
	return s.dispatcher.Dispatch(ctx, d, p.EventType)
}

// failJob marks the owning job failed after its task ran out of retries.
// Cancelled or already-terminal jobs are left alone.
func (s *Stages) failJob(ctx context.Context, jobID string, cause error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil || job.Status.Terminal() {
		return
	}
	summary := "stage retries exhausted: " + cause.Error()
	var ok bool
	if job.Status == model.JobStatusProcessing {
		ok, err = s.store.FinishJob(ctx, jobID, model.JobStatusFailed, job.RowsTotal, job.RowsSkipped, summary)
	} else {
		ok, err = s.store.TransitionJob(ctx, jobID, job.Status, model.JobStatusFailed)
	}
	if err != nil {
		zap.L().Error("mark job failed errored", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if ok {
		zap.L().Error("job failed after exhausting stage retries",
			zap.String("job_id", jobID),
			zap.Error(cause),
		)
	}
}

// analyzable reports whether records of a job should flow on to
// classification and decisions.
func analyzable(status model.JobStatus) bool {
	return status == model.JobStatusCompleted || status == model.JobStatusCompletedWithErrors
}
