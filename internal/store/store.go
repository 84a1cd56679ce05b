package store

import (
	"context"
	"time"

	"github.com/sightline-analytics/costlens/internal/model"
)

// JobFilter specifies criteria for listing ingestion jobs.
type JobFilter struct {
	UserID string          `json:"user_id,omitempty"`
	Status model.JobStatus `json:"status,omitempty"`
	Source string          `json:"source,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// DecisionFilter specifies criteria for listing decisions.
type DecisionFilter struct {
	UserID         string               `json:"user_id,omitempty"`
	Status         model.DecisionStatus `json:"status,omitempty"`
	Recommendation string               `json:"recommendation,omitempty"`
	JobID          string               `json:"job_id,omitempty"`
	Limit          int                  `json:"limit,omitempty"`
	Offset         int                  `json:"offset,omitempty"`
}

// DecisionOutcome reports what a keyed decision upsert did.
type DecisionOutcome string

const (
	DecisionCreated DecisionOutcome = "created"
	DecisionUpdated DecisionOutcome = "updated"
	DecisionSkipped DecisionOutcome = "skipped"
)

// DecisionStats aggregates a user's decisions.
type DecisionStats struct {
	Total            int     `json:"total"`
	Pending          int     `json:"pending"`
	Approved         int     `json:"approved"`
	Dismissed        int     `json:"dismissed"`
	EstimatedSavings float64 `json:"estimated_savings"`
}

// Store defines the persistence interface for the cost-optimization pipeline.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job model.IngestionJob) (*model.IngestionJob, error)
	GetJob(ctx context.Context, jobID string) (*model.IngestionJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.IngestionJob, error)
	// TransitionJob compare-and-swaps the job status. It returns false when
	// the job is not currently in the from status.
	TransitionJob(ctx context.Context, jobID string, from, to model.JobStatus) (bool, error)
	// FinishJob moves a processing job to a terminal status and records row
	// counts. Returns false when the job is no longer processing (e.g. it
	// was cancelled mid-flight).
	FinishJob(ctx context.Context, jobID string, status model.JobStatus, rowsTotal, rowsSkipped int, errorSummary string) (bool, error)
	// DeleteExpiredJobs removes terminal jobs last updated before the cutoff
	// and returns the upload file paths of the deleted jobs so the caller can
	// remove the files as well.
	DeleteExpiredJobs(ctx context.Context, before time.Time) ([]string, error)

	// Metadata records
	InsertRecords(ctx context.Context, records []model.MetadataRecord) (int64, error)
	ListRecordsByJob(ctx context.Context, jobID string) ([]model.MetadataRecord, error)
	// DeleteRecordsByJob removes a job's extracted records so a redelivered
	// extraction task can rebuild them from scratch.
	DeleteRecordsByJob(ctx context.Context, jobID string) (int64, error)

	// Classification results (one per record, overwritten on reclassification)
	SaveClassification(ctx context.Context, result model.ClassificationResult) error

	// Benchmarks
	UpsertBenchmarks(ctx context.Context, benchmarks []model.Benchmark) (int64, error)
	// GetBenchmark returns nil (no error) when no benchmark covers the key.
	GetBenchmark(ctx context.Context, provider, resourceType, region string) (*model.Benchmark, error)

	// Decisions
	// UpsertDecision finds or creates the decision keyed by
	// (resource_id, period_start). An existing pending decision is updated
	// in place; an approved or dismissed one is left untouched.
	UpsertDecision(ctx context.Context, d model.Decision) (*model.Decision, DecisionOutcome, error)
	GetDecision(ctx context.Context, decisionID string) (*model.Decision, error)
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.Decision, error)
	// UpdateDecisionStatus compare-and-swaps the decision status.
	UpdateDecisionStatus(ctx context.Context, decisionID string, from, to model.DecisionStatus) (bool, error)
	GetDecisionStats(ctx context.Context, userID string) (*DecisionStats, error)

	// Webhook delivery log
	AppendWebhookLog(ctx context.Context, entry model.WebhookLogEntry) error
	ListWebhookLogs(ctx context.Context, decisionID string) ([]model.WebhookLogEntry, error)

	// Dead letters
	AddDeadLetter(ctx context.Context, dl model.DeadLetter) error
	ListDeadLetters(ctx context.Context, limit int) ([]model.DeadLetter, error)
	RemoveDeadLetter(ctx context.Context, id string) error
	CountDeadLetters(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
