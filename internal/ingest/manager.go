package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sightline-analytics/costlens/internal/config"
	"github.com/sightline-analytics/costlens/internal/model"
	"github.com/sightline-analytics/costlens/internal/queue"
	"github.com/sightline-analytics/costlens/internal/store"
)

// Manager owns the ingestion job lifecycle: admission, status, cancellation.
// Jobs are mutated only through status transitions.
type Manager struct {
	store store.Store
	queue queue.Queue
	cfg   config.IngestConfig
}

// NewManager builds the job manager.
func NewManager(st store.Store, q queue.Queue, cfg config.IngestConfig) *Manager {
	return &Manager{store: st, queue: q, cfg: cfg}
}

// Submit validates and admits one billing file. The file is persisted to the
// upload directory and a pending job is created with an extraction task
// enqueued; the job id returns immediately, processing is asynchronous.
// Invalid submissions are rejected before any job row is written.
func (m *Manager) Submit(ctx context.Context, userID, source, fileName string, input io.Reader, size int64) (*model.IngestionJob, error) {
	if userID == "" {
		return nil, model.NewValidationError("missing user id")
	}
	if fileName == "" {
		return nil, model.NewValidationError("missing file name")
	}
	if !ValidSource(source) {
		return nil, model.NewValidationError("unknown source tag: %s", source)
	}
	maxBytes := int64(m.cfg.MaxUploadSizeMB) * 1024 * 1024
	if size <= 0 {
		return nil, model.NewValidationError("empty file")
	}
	if size > maxBytes {
		return nil, model.NewValidationError("file too large: %d bytes exceeds %dMB limit", size, m.cfg.MaxUploadSizeMB)
	}

	jobID := uuid.NewString()
	path, checksum, written, err := m.saveUpload(jobID, fileName, input, maxBytes)
	if err != nil {
		return nil, err
	}

	job, err := m.store.CreateJob(ctx, model.IngestionJob{
		ID:       jobID,
		UserID:   userID,
		Source:   source,
		FileName: fileName,
		FilePath: path,
		FileSize: written,
		Checksum: checksum,
		Status:   model.JobStatusPending,
	})
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	if _, err := m.queue.Enqueue(ctx, queue.KindExtract, queue.ExtractPayload{JobID: job.ID}); err != nil {
		// Without an extract task the pending job would never progress.
		if _, terr := m.store.TransitionJob(ctx, job.ID, model.JobStatusPending, model.JobStatusFailed); terr != nil {
			zap.L().Warn("mark unqueued job failed",
				zap.String("job_id", job.ID),
				zap.Error(terr),
			)
		}
		os.Remove(path)
		return nil, eris.Wrap(err, "ingest: enqueue extract task")
	}

	zap.L().Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("user_id", userID),
		zap.String("source", source),
		zap.Int64("file_size", written),
	)
	return job, nil
}

// saveUpload streams the input to the upload directory, hashing as it goes.
func (m *Manager) saveUpload(jobID, fileName string, input io.Reader, maxBytes int64) (path, checksum string, written int64, err error) {
	if err := os.MkdirAll(m.cfg.UploadDir, 0o755); err != nil {
		return "", "", 0, eris.Wrap(err, "ingest: create upload directory")
	}
	path = filepath.Join(m.cfg.UploadDir, jobID+filepath.Ext(fileName))

	f, err := os.Create(path)
	if err != nil {
		return "", "", 0, eris.Wrap(err, "ingest: create upload file")
	}
	defer f.Close()

	hasher := sha256.New()
	written, err = io.Copy(io.MultiWriter(f, hasher), io.LimitReader(input, maxBytes+1))
	if err != nil {
		os.Remove(path)
		return "", "", 0, eris.Wrap(err, "ingest: write upload file")
	}
	if written > maxBytes {
		os.Remove(path)
		return "", "", 0, model.NewValidationError("file too large: exceeds %dMB limit", m.cfg.MaxUploadSizeMB)
	}
	return path, hex.EncodeToString(hasher.Sum(nil)), written, nil
}

// GetStatus returns the job's current state, scoped to the owning user.
func (m *Manager) GetStatus(ctx context.Context, jobID, userID string) (*model.IngestionJob, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, model.NewNotFoundError("job", jobID)
	}
	return job, nil
}

// ListJobs returns the user's jobs, newest first.
func (m *Manager) ListJobs(ctx context.Context, filter store.JobFilter) ([]model.IngestionJob, error) {
	return m.store.ListJobs(ctx, filter)
}

// Cancel moves a pending or processing job to cancelled. Cancellation is
// cooperative; stages re-check job status and stop writing. A job already in
// a terminal state is left untouched and no error is returned.
func (m *Manager) Cancel(ctx context.Context, jobID, userID string) (*model.IngestionJob, error) {
	job, err := m.GetStatus(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}

	// The CAS can lose to pending->processing; re-read and swap from the
	// current status until the job is cancelled or reaches another terminal
	// state first.
	for !job.Status.Terminal() {
		ok, err := m.store.TransitionJob(ctx, jobID, job.Status, model.JobStatusCancelled)
		if err != nil {
			return nil, err
		}
		if ok {
			zap.L().Info("job cancelled",
				zap.String("job_id", jobID),
				zap.String("was", string(job.Status)),
			)
			break
		}
		job, err = m.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
	}
	return m.store.GetJob(ctx, jobID)
}

// Cleanup removes terminal jobs older than the retention window, cascading
// to their records, classifications, and upload files.
func (m *Manager) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	paths, err := m.store.DeleteExpiredJobs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			zap.L().Warn("remove expired upload failed",
				zap.String("path", p),
				zap.Error(err),
			)
		}
	}
	if len(paths) > 0 {
		zap.L().Info("expired jobs removed",
			zap.Int("count", len(paths)),
			zap.Time("cutoff", cutoff),
		)
	}
	return len(paths), nil
}
