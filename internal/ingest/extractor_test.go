package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sightline-analytics/costlens/internal/config"
	"github.com/sightline-analytics/costlens/internal/model"
	"github.com/sightline-analytics/costlens/internal/queue"
	"github.com/sightline-analytics/costlens/internal/store"
)

func newTestExtractor(t *testing.T, batchSize int) (*Extractor, store.Store, *queue.MemoryQueue) {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	q := queue.NewMemory()
	cfg := config.IngestConfig{
		UploadDir:          t.TempDir(),
		MaxUploadSizeMB:    10,
		SkipRatioThreshold: 0.10,
		BatchSize:          batchSize,
	}
	return NewExtractor(st, q, cfg), st, q
}

func writeJobFile(t *testing.T, st store.Store, source, content string) *model.IngestionJob {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	job, err := st.CreateJob(context.Background(), model.IngestionJob{
		UserID:   "user-1",
		Source:   source,
		FileName: "upload.csv",
		FilePath: path,
		FileSize: int64(len(content)),
		Status:   model.JobStatusPending,
	})
	require.NoError(t, err)
	return job
}

func genericCSV(rows ...string) string {
	var b strings.Builder
	b.WriteString("date,provider,resource_type,resource_id,cost,usage,tags\n")
	for _, r := range rows {
		b.WriteString(r + "\n")
	}
	return b.String()
}

func TestProcessJobAllRowsValid(t *testing.T) {
	e, st, q := newTestExtractor(t, 100)
	ctx := context.Background()

	rows := make([]string, 5)
	for i := range rows {
		rows[i] = fmt.Sprintf("2024-03-01,aws,vm,i-%03d,75.00,120,env:prod", i)
	}
	job := writeJobFile(t, st, SourceGeneric, genericCSV(rows...))

	require.NoError(t, e.ProcessJob(ctx, job.ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 5, got.RowsTotal)
	assert.Equal(t, 0, got.RowsSkipped)

	records, err := st.ListRecordsByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, "aws", records[0].Provider)
	assert.Equal(t, 75.0, records[0].CostAmount)
	assert.Equal(t, "prod", records[0].Tags["env"])

	tasks, err := q.Claim(ctx, queue.KindAnalyze, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestProcessJobOneBadRowInTwenty(t *testing.T) {
	e, st, _ := newTestExtractor(t, 100)
	ctx := context.Background()

	rows := make([]string, 20)
	for i := range rows {
		rows[i] = fmt.Sprintf("2024-03-01,aws,vm,i-%03d,10.00,1,", i)
	}
	rows[7] = "2024-03-01,aws,vm,i-bad,not-a-number,1,"
	job := writeJobFile(t, st, SourceGeneric, genericCSV(rows...))

	require.NoError(t, e.ProcessJob(ctx, job.ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompletedWithErrors, got.Status)
	assert.Equal(t, 20, got.RowsTotal)
	assert.Equal(t, 1, got.RowsSkipped)
	assert.Contains(t, got.ErrorSummary, "1 of 20")

	records, err := st.ListRecordsByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, records, 19)
}

func TestProcessJobSkipRatioExceededFailsJob(t *testing.T) {
	e, st, q := newTestExtractor(t, 100)
	ctx := context.Background()

	rows := make([]string, 10)
	for i := range rows {
		rows[i] = fmt.Sprintf("2024-03-01,aws,vm,i-%03d,10.00,1,", i)
	}
	rows[1] = "2024-03-01,aws,vm,i-b1,bad,1,"
	rows[4] = "2024-03-01,aws,vm,i-b2,bad,1,"
	rows[8] = "bad-date,aws,vm,i-b3,10.00,1,"
	job := writeJobFile(t, st, SourceGeneric, genericCSV(rows...))

	require.NoError(t, e.ProcessJob(ctx, job.ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.RowsSkipped)
	assert.Contains(t, got.ErrorSummary, "3 of 10")

	// A failed job never reaches the analysis stage.
	tasks, err := q.Claim(ctx, queue.KindAnalyze, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestProcessJobUndetectableFormatFailsBeforeRows(t *testing.T) {
	e, st, _ := newTestExtractor(t, 100)
	ctx := context.Background()

	job := writeJobFile(t, st, SourceAuto, "colA,colB\n1,2\n")

	require.NoError(t, e.ProcessJob(ctx, job.ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorSummary, "detect")

	records, err := st.ListRecordsByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestProcessJobAutoDetectsAWSCUR(t *testing.T) {
	e, st, _ := newTestExtractor(t, 100)
	ctx := context.Background()

	content := "line_item_usage_start_date,line_item_product_code,line_item_resource_id,line_item_blended_cost,line_item_usage_amount,product_region_code,resource_tags\n" +
		"2024-03-01,AmazonEC2,i-0abc,99.50,720,us-east-1,env:prod\n"
	job := writeJobFile(t, st, SourceAuto, content)

	require.NoError(t, e.ProcessJob(ctx, job.ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)

	records, err := st.ListRecordsByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "aws", records[0].Provider)
	assert.Equal(t, "amazonec2", records[0].ResourceType)
	assert.Equal(t, "us-east-1", records[0].Region)
}

func TestProcessJobClaimLostIsNoOp(t *testing.T) {
	e, st, _ := newTestExtractor(t, 100)
	ctx := context.Background()

	job := writeJobFile(t, st, SourceGeneric, genericCSV("2024-03-01,aws,vm,i-001,10.00,1,"))
	ok, err := st.TransitionJob(ctx, job.ID, model.JobStatusPending, model.JobStatusCancelled)
	require.NoError(t, err)
	require.True(t, ok)

	// Redelivery of the extract task for a cancelled job writes nothing.
	require.NoError(t, e.ProcessJob(ctx, job.ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)

	records, err := st.ListRecordsByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

// flakyStore commits the batch but reports a failure, the worst case for a
// redelivered task: rows already landed while the attempt looked dead.
type flakyStore struct {
	store.Store
	failRemaining int
}

func (s *flakyStore) InsertRecords(ctx context.Context, records []model.MetadataRecord) (int64, error) {
	n, err := s.Store.InsertRecords(ctx, records)
	if err != nil {
		return n, err
	}
	if s.failRemaining > 0 {
		s.failRemaining--
		return 0, errors.New("connection reset by peer")
	}
	return n, nil
}

func TestProcessJobRedeliveryAfterInsertFailureCompletesJob(t *testing.T) {
	e, st, q := newTestExtractor(t, 100)
	ctx := context.Background()

	rows := make([]string, 5)
	for i := range rows {
		rows[i] = fmt.Sprintf("2024-03-01,aws,vm,i-%03d,10.00,1,", i)
	}
	job := writeJobFile(t, st, SourceGeneric, genericCSV(rows...))

	e.store = &flakyStore{Store: st, failRemaining: 1}

	// First delivery claims the job and dies on the insert; the job stays
	// processing so the task retry can pick it up.
	require.Error(t, e.ProcessJob(ctx, job.ID))
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, got.Status)

	// Redelivery resumes the processing job, replacing the partial output.
	require.NoError(t, e.ProcessJob(ctx, job.ID))

	got, err = st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 5, got.RowsTotal)

	records, err := st.ListRecordsByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, records, 5)

	tasks, err := q.Claim(ctx, queue.KindAnalyze, 10)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

// cancellingStore cancels the job after the first record batch lands,
// simulating a user cancel racing the extractor.
type cancellingStore struct {
	store.Store
	jobID    string
	inserted bool
}

func (s *cancellingStore) InsertRecords(ctx context.Context, records []model.MetadataRecord) (int64, error) {
	n, err := s.Store.InsertRecords(ctx, records)
	if err == nil && !s.inserted {
		s.inserted = true
		if _, terr := s.Store.TransitionJob(ctx, s.jobID, model.JobStatusProcessing, model.JobStatusCancelled); terr != nil {
			return n, terr
		}
	}
	return n, err
}

func TestProcessJobStopsAfterMidExtractionCancel(t *testing.T) {
	e, st, q := newTestExtractor(t, 2)
	ctx := context.Background()

	rows := make([]string, 6)
	for i := range rows {
		rows[i] = fmt.Sprintf("2024-03-01,aws,vm,i-%03d,10.00,1,", i)
	}
	job := writeJobFile(t, st, SourceGeneric, genericCSV(rows...))

	wrapped := &cancellingStore{Store: st, jobID: job.ID}
	e.store = wrapped

	require.NoError(t, e.ProcessJob(ctx, job.ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)

	// Only the batch in flight before the cancel landed.
	records, err := st.ListRecordsByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	tasks, err := q.Claim(ctx, queue.KindAnalyze, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
