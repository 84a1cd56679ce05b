package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sightline-analytics/costlens/internal/config"
	"github.com/sightline-analytics/costlens/internal/model"
	"github.com/sightline-analytics/costlens/internal/queue"
	"github.com/sightline-analytics/costlens/internal/store"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// rowSource yields one tabular row per call. Returns io.EOF when exhausted.
type rowSource interface {
	Next() ([]string, error)
}

// Extractor parses a job's uploaded billing file into metadata records.
// Rows are validated independently; a malformed row is skipped and counted
// rather than failing the job, up to the configured skip-ratio threshold.
type Extractor struct {
	store store.Store
	queue queue.Queue
	cfg   config.IngestConfig
}

// NewExtractor builds the metadata extraction stage.
func NewExtractor(st store.Store, q queue.Queue, cfg config.IngestConfig) *Extractor {
	return &Extractor{store: st, queue: q, cfg: cfg}
}

// ProcessJob runs extraction for one job. The pending->processing claim is a
// compare-and-swap so at most one worker processes the job. A redelivered
// task for a job still in processing resumes it: the previous attempt died
// mid-flight, so its partial records are dropped and extraction reruns.
// A job past processing means the work already finished and the call is a
// no-op.
func (e *Extractor) ProcessJob(ctx context.Context, jobID string) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	claimed, err := e.store.TransitionJob(ctx, jobID, model.JobStatusPending, model.JobStatusProcessing)
	if err != nil {
		return err
	}
	if !claimed {
		job, err = e.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status != model.JobStatusProcessing {
			zap.L().Info("extract skipped, job already past processing",
				zap.String("job_id", jobID),
				zap.String("status", string(job.Status)),
			)
			return nil
		}
		if _, err := e.store.DeleteRecordsByJob(ctx, jobID); err != nil {
			return eris.Wrap(err, "ingest: reset partial extraction")
		}
		zap.L().Info("extract resumed for redelivered task",
			zap.String("job_id", jobID),
		)
	}

	total, skipped, err := e.extract(ctx, job)
	if err != nil {
		if model.IsKind(err, model.KindValidation) {
			e.finish(ctx, jobID, model.JobStatusFailed, total, skipped, err.Error())
			return nil
		}
		// Infrastructure error: leave the job processing so the task retry
		// can resume; the worker marks it failed after the retry budget.
		return err
	}

	status := model.JobStatusCompleted
	summary := ""
	switch {
	case total > 0 && float64(skipped)/float64(total) > e.cfg.SkipRatioThreshold:
		status = model.JobStatusFailed
		summary = fmt.Sprintf("%d of %d rows failed to parse (%.0f%% exceeds %.0f%% threshold)",
			skipped, total, 100*float64(skipped)/float64(total), 100*e.cfg.SkipRatioThreshold)
	case skipped > 0:
		status = model.JobStatusCompletedWithErrors
		summary = fmt.Sprintf("%d of %d rows failed to parse", skipped, total)
	}

	if !e.finish(ctx, jobID, status, total, skipped, summary) {
		// Cancelled mid-flight; records already written stay, but no
		// downstream stage runs.
		return nil
	}

	if status == model.JobStatusFailed {
		return nil
	}
	if _, err := e.queue.Enqueue(ctx, queue.KindAnalyze, queue.AnalyzePayload{JobID: jobID}); err != nil {
		return eris.Wrap(err, "ingest: enqueue analyze task")
	}
	return nil
}

// finish moves the job to a terminal status. Returns false when the job was
// cancelled while extraction ran.
func (e *Extractor) finish(ctx context.Context, jobID string, status model.JobStatus, total, skipped int, summary string) bool {
	ok, err := e.store.FinishJob(ctx, jobID, status, total, skipped, summary)
	if err != nil {
		zap.L().Error("finish job failed", zap.String("job_id", jobID), zap.Error(err))
		return false
	}
	if !ok {
		zap.L().Info("job no longer processing, leaving status untouched",
			zap.String("job_id", jobID),
		)
	}
	return ok
}

func (e *Extractor) extract(ctx context.Context, job *model.IngestionJob) (total, skipped int, err error) {
	src, closeFn, err := openRowSource(job.FilePath)
	if err != nil {
		return 0, 0, err
	}
	defer closeFn()

	headers, err := src.Next()
	if err == io.EOF {
		return 0, 0, model.NewValidationError("input file is empty")
	}
	if err != nil {
		return 0, 0, eris.Wrap(err, "ingest: read header row")
	}
	mapping, err := mappingFor(job.Source, headers)
	if err != nil {
		return 0, 0, err
	}
	cols, err := resolveColumns(mapping, headers)
	if err != nil {
		return 0, 0, err
	}

	batch := make([]model.MetadataRecord, 0, e.cfg.BatchSize)
	line := 1
	for {
		row, rerr := src.Next()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return total, skipped, eris.Wrap(rerr, "ingest: read row")
		}
		line++
		total++

		rec, perr := parseRow(row, cols, mapping, job, line)
		if perr != nil {
			skipped++
			zap.L().Debug("row skipped",
				zap.String("job_id", job.ID),
				zap.Int("line", line),
				zap.Error(perr),
			)
			continue
		}
		batch = append(batch, rec)

		if len(batch) >= e.cfg.BatchSize {
			ok, ferr := e.flush(ctx, job.ID, batch)
			if ferr != nil {
				return total, skipped, ferr
			}
			if !ok {
				return total, skipped, nil
			}
			batch = batch[:0]
		}
	}

	if _, err := e.flush(ctx, job.ID, batch); err != nil {
		return total, skipped, err
	}
	return total, skipped, nil
}

// flush writes a batch of records. It re-checks job status first so a
// cancelled job stops producing records; work already written stays.
func (e *Extractor) flush(ctx context.Context, jobID string, batch []model.MetadataRecord) (bool, error) {
	if len(batch) == 0 {
		return true, nil
	}

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status != model.JobStatusProcessing {
		zap.L().Info("job left processing mid-extraction, stopping",
			zap.String("job_id", jobID),
			zap.String("status", string(job.Status)),
		)
		return false, nil
	}

	if _, err := e.store.InsertRecords(ctx, batch); err != nil {
		return false, eris.Wrap(err, "ingest: insert record batch")
	}
	return true, nil
}

// resolvedColumns holds header positions for the mapped fields. A value of
// -1 marks an absent optional column.
type resolvedColumns struct {
	date, dateEnd, provider, resourceType, resourceID, cost, usage, region, tags int
}

func resolveColumns(m columnMapping, headers []string) (resolvedColumns, error) {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	find := func(name string) int {
		if name == "" {
			return -1
		}
		if i, ok := idx[strings.ToLower(name)]; ok {
			return i
		}
		return -1
	}

	cols := resolvedColumns{
		date:         find(m.Date),
		dateEnd:      find(m.DateEnd),
		provider:     find(m.ProviderCol),
		resourceType: find(m.ResourceType),
		resourceID:   find(m.ResourceID),
		cost:         find(m.Cost),
		usage:        find(m.Usage),
		region:       find(m.Region),
		tags:         find(m.Tags),
	}

	var missing []string
	if cols.date < 0 {
		missing = append(missing, m.Date)
	}
	if m.ProviderCol != "" && cols.provider < 0 {
		missing = append(missing, m.ProviderCol)
	}
	if cols.resourceType < 0 {
		missing = append(missing, m.ResourceType)
	}
	if cols.resourceID < 0 {
		missing = append(missing, m.ResourceID)
	}
	if cols.cost < 0 {
		missing = append(missing, m.Cost)
	}
	if len(missing) > 0 {
		return cols, model.NewValidationError("source %s: missing required columns: %s", m.Source, strings.Join(missing, ", "))
	}
	return cols, nil
}

func parseRow(row []string, cols resolvedColumns, m columnMapping, job *model.IngestionJob, line int) (model.MetadataRecord, error) {
	cell := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	resourceID := cell(cols.resourceID)
	if resourceID == "" {
		return model.MetadataRecord{}, model.NewRowParseError(line, "missing resource id")
	}
	resourceType := cell(cols.resourceType)
	if resourceType == "" {
		return model.MetadataRecord{}, model.NewRowParseError(line, "missing resource type")
	}

	provider := m.Provider
	if provider == "" {
		provider = strings.ToLower(cell(cols.provider))
		if provider == "" {
			return model.MetadataRecord{}, model.NewRowParseError(line, "missing provider")
		}
	}

	costRaw := cell(cols.cost)
	cost, err := strconv.ParseFloat(costRaw, 64)
	if err != nil {
		return model.MetadataRecord{}, model.NewRowParseError(line, "non-numeric cost %q", costRaw)
	}

	periodStart, err := parseDate(cell(cols.date))
	if err != nil {
		return model.MetadataRecord{}, model.NewRowParseError(line, "unparseable date %q", cell(cols.date))
	}
	periodEnd := periodStart
	if v := cell(cols.dateEnd); v != "" {
		if t, derr := parseDate(v); derr == nil {
			periodEnd = t
		}
	}

	var usage float64
	if v := cell(cols.usage); v != "" {
		usage, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return model.MetadataRecord{}, model.NewRowParseError(line, "non-numeric usage %q", v)
		}
	}

	return model.MetadataRecord{
		ID:            uuid.NewString(),
		JobID:         job.ID,
		UserID:        job.UserID,
		ResourceID:    resourceID,
		Provider:      provider,
		ResourceType:  strings.ToLower(resourceType),
		Region:        cell(cols.region),
		CostAmount:    cost,
		UsageQuantity: usage,
		PeriodStart:   periodStart,
		PeriodEnd:     periodEnd,
		Tags:          ParseTags(cell(cols.tags)),
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, eris.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unrecognized date format: %s", value)
}

// openRowSource opens the uploaded file as a row stream based on extension.
func openRowSource(path string) (rowSource, func(), error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt", "":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, eris.Wrap(err, "ingest: open csv")
		}
		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		return csvSource{r: r}, func() { f.Close() }, nil
	case ".xlsx", ".xls":
		f, err := xlsx.OpenFile(path)
		if err != nil {
			return nil, nil, model.NewValidationError("unreadable xlsx file: %v", err)
		}
		if len(f.Sheets) == 0 {
			return nil, nil, model.NewValidationError("xlsx file has no sheets")
		}
		return &xlsxSource{sheet: f.Sheets[0]}, func() {}, nil
	default:
		return nil, nil, model.NewValidationError("unsupported file format: %s", filepath.Ext(path))
	}
}

type csvSource struct {
	r *csv.Reader
}

func (s csvSource) Next() ([]string, error) {
	row, err := s.r.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		// A ragged row is a row-level problem, not a stream failure.
		if _, ok := err.(*csv.ParseError); ok {
			return row, nil
		}
		return nil, err
	}
	return row, nil
}

type xlsxSource struct {
	sheet *xlsx.Sheet
	pos   int
}

func (s *xlsxSource) Next() ([]string, error) {
	if s.pos >= len(s.sheet.Rows) {
		return nil, io.EOF
	}
	row := s.sheet.Rows[s.pos]
	s.pos++
	cells := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		cells[i] = c.String()
	}
	return cells, nil
}
