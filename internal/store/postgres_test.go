package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sightline-analytics/costlens/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs("nonexistent-job").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "nonexistent-job")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(pgxmock.AnyArg(), "user-1", "aws_cur", "billing.csv", "/uploads/billing.csv",
			int64(1024), "abc123", "pending", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := s.CreateJob(context.Background(), model.IngestionJob{
		UserID:   "user-1",
		Source:   "aws_cur",
		FileName: "billing.csv",
		FilePath: "/uploads/billing.csv",
		FileSize: 1024,
		Checksum: "abc123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob_HonorsCallerID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs("job-preset", "user-1", "generic", "f.csv", "/uploads/job-preset.csv",
			int64(10), "sum", "pending", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := s.CreateJob(context.Background(), model.IngestionJob{
		ID:       "job-preset",
		UserID:   "user-1",
		Source:   "generic",
		FileName: "f.csv",
		FilePath: "/uploads/job-preset.csv",
		FileSize: 10,
		Checksum: "sum",
	})
	require.NoError(t, err)
	assert.Equal(t, "job-preset", job.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionJob_CAS(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status = \$4`).
		WithArgs("processing", pgxmock.AnyArg(), "job-1", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.TransitionJob(context.Background(), "job-1", model.JobStatusPending, model.JobStatusProcessing)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionJob_LostRace(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status = \$4`).
		WithArgs("processing", pgxmock.AnyArg(), "job-1", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.TransitionJob(context.Background(), "job-1", model.JobStatusPending, model.JobStatusProcessing)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishJob_CancelledMidFlight(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1, rows_total = \$2, rows_skipped = \$3, error_summary = \$4, updated_at = \$5`).
		WithArgs("completed", 100, 0, "", pgxmock.AnyArg(), "job-1", "processing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.FinishJob(context.Background(), "job-1", model.JobStatusCompleted, 100, 0, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBenchmark_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT provider, resource_type, region, min_cost, max_cost FROM benchmarks`).
		WithArgs("aws", "vm", "us-east-1").
		WillReturnError(pgx.ErrNoRows)

	b, err := s.GetBenchmark(context.Background(), "aws", "vm", "us-east-1")
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRecords_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"metadata_records"}, recordColumns).WillReturnResult(2)

	period := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	records := []model.MetadataRecord{
		{JobID: "job-1", UserID: "user-1", ResourceID: "i-1", Provider: "aws", ResourceType: "vm",
			CostAmount: 12.5, PeriodStart: period, PeriodEnd: period.AddDate(0, 1, 0)},
		{JobID: "job-1", UserID: "user-1", ResourceID: "i-2", Provider: "aws", ResourceType: "vm",
			CostAmount: 7.25, PeriodStart: period, PeriodEnd: period.AddDate(0, 1, 0)},
	}
	n, err := s.InsertRecords(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertDecision_Created(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	period := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM decisions WHERE resource_id = \$1 AND period_start = \$2 FOR UPDATE`).
		WithArgs("i-1", period).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO decisions`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	d, outcome, err := s.UpsertDecision(context.Background(), model.Decision{
		UserID:         "user-1",
		JobID:          "job-1",
		ResourceID:     "i-1",
		PeriodStart:    period,
		Recommendation: model.RecommendationRightsizing,
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionCreated, outcome)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, model.DecisionStatusPending, d.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertDecision_SkippedWhenApproved(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	period := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM decisions WHERE resource_id = \$1 AND period_start = \$2 FOR UPDATE`).
		WithArgs("i-1", period).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "job_id", "resource_id", "period_start", "category", "rule_id",
			"recommendation", "estimated_savings", "cost_delta", "status", "created_at", "updated_at",
		}).AddRow("dec-1", "user-1", "job-0", "i-1", period, "high-cost-prod", "rule-1",
			"rightsizing", 40.0, 80.0, model.DecisionStatusApproved, now, now))
	mock.ExpectCommit()
	mock.ExpectRollback()

	d, outcome, err := s.UpsertDecision(context.Background(), model.Decision{
		UserID:         "user-1",
		JobID:          "job-2",
		ResourceID:     "i-1",
		PeriodStart:    period,
		Recommendation: model.RecommendationArchive,
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionSkipped, outcome)
	assert.Equal(t, "dec-1", d.ID)
	assert.Equal(t, model.RecommendationRightsizing, d.Recommendation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertDecision_UpdatedWhenPending(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	period := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM decisions WHERE resource_id = \$1 AND period_start = \$2 FOR UPDATE`).
		WithArgs("i-1", period).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "job_id", "resource_id", "period_start", "category", "rule_id",
			"recommendation", "estimated_savings", "cost_delta", "status", "created_at", "updated_at",
		}).AddRow("dec-1", "user-1", "job-0", "i-1", period, "high-cost-prod", "rule-1",
			"rightsizing", 40.0, 80.0, model.DecisionStatusPending, now, now))
	mock.ExpectExec(`UPDATE decisions SET job_id = \$1`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	d, outcome, err := s.UpsertDecision(context.Background(), model.Decision{
		UserID:           "user-1",
		JobID:            "job-2",
		ResourceID:       "i-1",
		PeriodStart:      period,
		Recommendation:   model.RecommendationArchive,
		EstimatedSavings: 64.0,
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionUpdated, outcome)
	assert.Equal(t, "dec-1", d.ID)
	assert.Equal(t, "job-2", d.JobID)
	assert.Equal(t, model.RecommendationArchive, d.Recommendation)
	assert.Equal(t, 64.0, d.EstimatedSavings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateDecisionStatus_CAS(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE decisions SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status = \$4`).
		WithArgs("approved", pgxmock.AnyArg(), "dec-1", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.UpdateDecisionStatus(context.Background(), "dec-1", model.DecisionStatusPending, model.DecisionStatusApproved)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveClassification_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO classifications .+ ON CONFLICT \(record_id\) DO UPDATE`).
		WithArgs("rec-1", "high-cost-prod", 0.9, "rule-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveClassification(context.Background(), model.ClassificationResult{
		RecordID:     "rec-1",
		Category:     "high-cost-prod",
		Confidence:   0.9,
		RuleID:       "rule-1",
		ClassifiedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteExpiredJobs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`DELETE FROM jobs WHERE updated_at < \$1 AND status IN \(\$2, \$3, \$4, \$5\) RETURNING file_path`).
		WithArgs(pgxmock.AnyArg(), "completed", "completed_with_errors", "failed", "cancelled").
		WillReturnRows(pgxmock.NewRows([]string{"file_path"}).
			AddRow("/uploads/job-1.csv").
			AddRow("/uploads/job-2.xlsx"))

	paths, err := s.DeleteExpiredJobs(context.Background(), time.Now().UTC().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, []string{"/uploads/job-1.csv", "/uploads/job-2.xlsx"}, paths)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteRecordsByJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM metadata_records WHERE job_id = \$1`).
		WithArgs("job-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.DeleteRecordsByJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
