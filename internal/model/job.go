package model

import "time"

// JobStatus represents the lifecycle state of an ingestion job.
//
// Valid transitions: pending -> processing -> {completed,
// completed_with_errors, failed}; any non-terminal state -> cancelled.
// Status only moves forward; no stage writes to a cancelled or failed job.
type JobStatus string

const (
	JobStatusPending             JobStatus = "pending"
	JobStatusProcessing          JobStatus = "processing"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusFailed              JobStatus = "failed"
	JobStatusCancelled           JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IngestionJob tracks one submitted billing file through the pipeline.
// Owned by the job manager; mutated only through status transitions.
type IngestionJob struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Source       string    `json:"source"`
	FileName     string    `json:"file_name"`
	FilePath     string    `json:"file_path,omitempty"`
	FileSize     int64     `json:"file_size"`
	Checksum     string    `json:"checksum"`
	Status       JobStatus `json:"status"`
	RowsTotal    int       `json:"rows_total"`
	RowsSkipped  int       `json:"rows_skipped"`
	ErrorSummary string    `json:"error_summary,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SkipRatio returns the fraction of input rows that failed to parse.
func (j *IngestionJob) SkipRatio() float64 {
	if j.RowsTotal == 0 {
		return 0
	}
	return float64(j.RowsSkipped) / float64(j.RowsTotal)
}
