package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sightline-analytics/costlens/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs
// single-node deployments where running Postgres is not worth it.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	source        TEXT NOT NULL,
	file_name     TEXT NOT NULL,
	file_path     TEXT NOT NULL,
	file_size     INTEGER NOT NULL DEFAULT 0,
	checksum      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	rows_total    INTEGER NOT NULL DEFAULT 0,
	rows_skipped  INTEGER NOT NULL DEFAULT 0,
	error_summary TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_user_id ON jobs(user_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(updated_at);

CREATE TABLE IF NOT EXISTS metadata_records (
	id             TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	user_id        TEXT NOT NULL,
	resource_id    TEXT NOT NULL,
	provider       TEXT NOT NULL,
	resource_type  TEXT NOT NULL,
	region         TEXT NOT NULL DEFAULT '',
	cost_amount    REAL NOT NULL,
	usage_quantity REAL NOT NULL DEFAULT 0,
	period_start   DATETIME NOT NULL,
	period_end     DATETIME NOT NULL,
	tags           TEXT NOT NULL DEFAULT '{}',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_metadata_records_job_id ON metadata_records(job_id);
CREATE INDEX IF NOT EXISTS idx_metadata_records_resource ON metadata_records(resource_id, period_start);

CREATE TABLE IF NOT EXISTS classifications (
	record_id     TEXT PRIMARY KEY REFERENCES metadata_records(id) ON DELETE CASCADE,
	category      TEXT NOT NULL,
	confidence    REAL NOT NULL,
	rule_id       TEXT NOT NULL,
	classified_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS benchmarks (
	provider      TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	region        TEXT NOT NULL,
	min_cost      REAL NOT NULL,
	max_cost      REAL NOT NULL,
	PRIMARY KEY (provider, resource_type, region)
);

CREATE TABLE IF NOT EXISTS decisions (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	job_id            TEXT NOT NULL,
	resource_id       TEXT NOT NULL,
	period_start      DATETIME NOT NULL,
	category          TEXT NOT NULL DEFAULT '',
	rule_id           TEXT NOT NULL DEFAULT '',
	recommendation    TEXT NOT NULL,
	estimated_savings REAL NOT NULL DEFAULT 0,
	cost_delta        REAL NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'pending',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (resource_id, period_start)
);

CREATE INDEX IF NOT EXISTS idx_decisions_user_id ON decisions(user_id);
CREATE INDEX IF NOT EXISTS idx_decisions_status ON decisions(status);
CREATE INDEX IF NOT EXISTS idx_decisions_job_id ON decisions(job_id);

CREATE TABLE IF NOT EXISTS webhook_logs (
	id          TEXT PRIMARY KEY,
	decision_id TEXT NOT NULL,
	attempt     INTEGER NOT NULL,
	success     INTEGER NOT NULL,
	status_code INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_webhook_logs_decision_id ON webhook_logs(decision_id);

CREATE TABLE IF NOT EXISTS dead_letters (
	id          TEXT PRIMARY KEY,
	decision_id TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	payload     BLOB NOT NULL,
	attempts    INTEGER NOT NULL,
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Jobs

func (s *SQLiteStore) CreateJob(ctx context.Context, job model.IngestionJob) (*model.IngestionJob, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = model.JobStatusPending
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, user_id, source, file_name, file_path, file_size, checksum, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, job.Source, job.FileName, job.FilePath, job.FileSize, job.Checksum,
		string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}
	return &job, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.IngestionJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, source, file_name, file_path, file_size, checksum, status, rows_total, rows_skipped, error_summary, created_at, updated_at
		 FROM jobs WHERE id = ?`,
		jobID,
	)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, model.NewNotFoundError("job", jobID)
	}
	return j, err
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.IngestionJob, error) {
	query := `SELECT id, user_id, source, file_name, file_path, file_size, checksum, status, rows_total, rows_skipped, error_summary, created_at, updated_at FROM jobs WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.IngestionJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) TransitionJob(ctx context.Context, jobID string, from, to model.JobStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), jobID, string(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) FinishJob(ctx context.Context, jobID string, status model.JobStatus, rowsTotal, rowsSkipped int, errorSummary string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, rows_total = ?, rows_skipped = ?, error_summary = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), rowsTotal, rowsSkipped, errorSummary, time.Now().UTC(),
		jobID, string(model.JobStatusProcessing),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: finish job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) DeleteExpiredJobs(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM jobs WHERE updated_at < ? AND status IN (?, ?, ?, ?) RETURNING file_path`,
		before,
		string(model.JobStatusCompleted), string(model.JobStatusCompletedWithErrors),
		string(model.JobStatusFailed), string(model.JobStatusCancelled),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: delete expired jobs")
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan expired job path")
		}
		paths = append(paths, p)
	}
	return paths, eris.Wrap(rows.Err(), "sqlite: delete expired jobs iterate")
}

// Metadata records

func (s *SQLiteStore) InsertRecords(ctx context.Context, records []model.MetadataRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert records: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metadata_records (id, job_id, user_id, resource_id, provider, resource_type, region, cost_amount, usage_quantity, period_start, period_end, tags, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert records: prepare")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var inserted int64
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		tagsJSON, err := json.Marshal(r.Tags)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal tags")
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.JobID, r.UserID, r.ResourceID, r.Provider, r.ResourceType,
			r.Region, r.CostAmount, r.UsageQuantity, r.PeriodStart, r.PeriodEnd,
			string(tagsJSON), r.CreatedAt,
		); err != nil {
			return 0, eris.Wrap(err, "sqlite: insert record")
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert records: commit")
	}
	return inserted, nil
}

func (s *SQLiteStore) DeleteRecordsByJob(ctx context.Context, jobID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM metadata_records WHERE job_id = ?`, jobID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete records for job %s", jobID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ListRecordsByJob(ctx context.Context, jobID string) ([]model.MetadataRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, user_id, resource_id, provider, resource_type, region, cost_amount, usage_quantity, period_start, period_end, tags, created_at
		 FROM metadata_records WHERE job_id = ? ORDER BY created_at, id`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list records for job %s", jobID)
	}
	defer rows.Close()

	var records []model.MetadataRecord
	for rows.Next() {
		var r model.MetadataRecord
		var tagsJSON string
		if err := rows.Scan(&r.ID, &r.JobID, &r.UserID, &r.ResourceID, &r.Provider, &r.ResourceType,
			&r.Region, &r.CostAmount, &r.UsageQuantity, &r.PeriodStart, &r.PeriodEnd, &tagsJSON, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal tags")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

// Classifications

func (s *SQLiteStore) SaveClassification(ctx context.Context, result model.ClassificationResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO classifications (record_id, category, confidence, rule_id, classified_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (record_id) DO UPDATE SET category = excluded.category, confidence = excluded.confidence, rule_id = excluded.rule_id, classified_at = excluded.classified_at`,
		result.RecordID, result.Category, result.Confidence, result.RuleID, result.ClassifiedAt,
	)
	return eris.Wrap(err, "sqlite: save classification")
}

// Benchmarks

func (s *SQLiteStore) UpsertBenchmarks(ctx context.Context, benchmarks []model.Benchmark) (int64, error) {
	if len(benchmarks) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert benchmarks: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO benchmarks (provider, resource_type, region, min_cost, max_cost)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (provider, resource_type, region) DO UPDATE SET min_cost = excluded.min_cost, max_cost = excluded.max_cost`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert benchmarks: prepare")
	}
	defer stmt.Close()

	var n int64
	for _, b := range benchmarks {
		if _, err := stmt.ExecContext(ctx, b.Provider, b.ResourceType, b.Region, b.MinCost, b.MaxCost); err != nil {
			return 0, eris.Wrap(err, "sqlite: upsert benchmark")
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert benchmarks: commit")
	}
	return n, nil
}

func (s *SQLiteStore) GetBenchmark(ctx context.Context, provider, resourceType, region string) (*model.Benchmark, error) {
	var b model.Benchmark
	// Prefer the region-specific benchmark, falling back to the
	// region-agnostic one.
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, resource_type, region, min_cost, max_cost FROM benchmarks
		 WHERE provider = ? AND resource_type = ? AND region IN (?, '')
		 ORDER BY (region = ?) DESC LIMIT 1`,
		provider, resourceType, region, region,
	).Scan(&b.Provider, &b.ResourceType, &b.Region, &b.MinCost, &b.MaxCost)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get benchmark")
	}
	return &b, nil
}

// Decisions

func (s *SQLiteStore) UpsertDecision(ctx context.Context, d model.Decision) (*model.Decision, DecisionOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", eris.Wrap(err, "sqlite: upsert decision: begin tx")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, user_id, job_id, resource_id, period_start, category, rule_id, recommendation, estimated_savings, cost_delta, status, created_at, updated_at
		 FROM decisions WHERE resource_id = ? AND period_start = ?`,
		d.ResourceID, d.PeriodStart,
	)

	var existing model.Decision
	err = row.Scan(&existing.ID, &existing.UserID, &existing.JobID, &existing.ResourceID, &existing.PeriodStart,
		&existing.Category, &existing.RuleID, &existing.Recommendation, &existing.EstimatedSavings,
		&existing.CostDelta, &existing.Status, &existing.CreatedAt, &existing.UpdatedAt)

	now := time.Now().UTC()

	switch {
	case err == sql.ErrNoRows:
		d.ID = uuid.New().String()
		d.Status = model.DecisionStatusPending
		d.CreatedAt = now
		d.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO decisions (id, user_id, job_id, resource_id, period_start, category, rule_id, recommendation, estimated_savings, cost_delta, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.UserID, d.JobID, d.ResourceID, d.PeriodStart, d.Category, d.RuleID,
			d.Recommendation, d.EstimatedSavings, d.CostDelta, string(d.Status), d.CreatedAt, d.UpdatedAt,
		)
		if err != nil {
			return nil, "", eris.Wrap(err, "sqlite: insert decision")
		}
		if err := tx.Commit(); err != nil {
			return nil, "", eris.Wrap(err, "sqlite: upsert decision: commit")
		}
		return &d, DecisionCreated, nil

	case err != nil:
		return nil, "", eris.Wrap(err, "sqlite: find decision")

	case existing.Status != model.DecisionStatusPending:
		if err := tx.Commit(); err != nil {
			return nil, "", eris.Wrap(err, "sqlite: upsert decision: commit")
		}
		return &existing, DecisionSkipped, nil

	default:
		existing.JobID = d.JobID
		existing.Category = d.Category
		existing.RuleID = d.RuleID
		existing.Recommendation = d.Recommendation
		existing.EstimatedSavings = d.EstimatedSavings
		existing.CostDelta = d.CostDelta
		existing.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`UPDATE decisions SET job_id = ?, category = ?, rule_id = ?, recommendation = ?, estimated_savings = ?, cost_delta = ?, updated_at = ?
			 WHERE id = ?`,
			existing.JobID, existing.Category, existing.RuleID, existing.Recommendation,
			existing.EstimatedSavings, existing.CostDelta, existing.UpdatedAt, existing.ID,
		)
		if err != nil {
			return nil, "", eris.Wrap(err, "sqlite: update decision")
		}
		if err := tx.Commit(); err != nil {
			return nil, "", eris.Wrap(err, "sqlite: upsert decision: commit")
		}
		return &existing, DecisionUpdated, nil
	}
}

func (s *SQLiteStore) GetDecision(ctx context.Context, decisionID string) (*model.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, job_id, resource_id, period_start, category, rule_id, recommendation, estimated_savings, cost_delta, status, created_at, updated_at
		 FROM decisions WHERE id = ?`,
		decisionID,
	)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, model.NewNotFoundError("decision", decisionID)
	}
	return d, err
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.Decision, error) {
	query := `SELECT id, user_id, job_id, resource_id, period_start, category, rule_id, recommendation, estimated_savings, cost_delta, status, created_at, updated_at FROM decisions WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Recommendation != "" {
		query += ` AND recommendation = ?`
		args = append(args, filter.Recommendation)
	}
	if filter.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, filter.JobID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list decisions")
	}
	defer rows.Close()

	var decisions []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, *d)
	}
	return decisions, eris.Wrap(rows.Err(), "sqlite: list decisions iterate")
}

func (s *SQLiteStore) UpdateDecisionStatus(ctx context.Context, decisionID string, from, to model.DecisionStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), decisionID, string(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update decision status %s", decisionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetDecisionStats(ctx context.Context, userID string) (*DecisionStats, error) {
	var stats DecisionStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'approved' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'dismissed' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(estimated_savings), 0)
		 FROM decisions WHERE user_id = ?`,
		userID,
	).Scan(&stats.Total, &stats.Pending, &stats.Approved, &stats.Dismissed, &stats.EstimatedSavings)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: decision stats")
	}
	return &stats, nil
}

// Webhook delivery log

func (s *SQLiteStore) AppendWebhookLog(ctx context.Context, entry model.WebhookLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_logs (id, decision_id, attempt, success, status_code, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DecisionID, entry.Attempt, entry.Success, entry.StatusCode, entry.Error, entry.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append webhook log")
}

func (s *SQLiteStore) ListWebhookLogs(ctx context.Context, decisionID string) ([]model.WebhookLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, decision_id, attempt, success, status_code, error, created_at
		 FROM webhook_logs WHERE decision_id = ? ORDER BY created_at, attempt`,
		decisionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list webhook logs")
	}
	defer rows.Close()

	var entries []model.WebhookLogEntry
	for rows.Next() {
		var e model.WebhookLogEntry
		if err := rows.Scan(&e.ID, &e.DecisionID, &e.Attempt, &e.Success, &e.StatusCode, &e.Error, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan webhook log")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list webhook logs iterate")
}

// Dead letters

func (s *SQLiteStore) AddDeadLetter(ctx context.Context, dl model.DeadLetter) error {
	if dl.ID == "" {
		dl.ID = uuid.New().String()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, decision_id, event_type, payload, attempts, last_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		dl.ID, dl.DecisionID, dl.EventType, dl.Payload, dl.Attempts, dl.LastError, dl.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: add dead letter")
}

func (s *SQLiteStore) ListDeadLetters(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, decision_id, event_type, payload, attempts, last_error, created_at
		 FROM dead_letters ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dead letters")
	}
	defer rows.Close()

	var letters []model.DeadLetter
	for rows.Next() {
		var dl model.DeadLetter
		if err := rows.Scan(&dl.ID, &dl.DecisionID, &dl.EventType, &dl.Payload, &dl.Attempts, &dl.LastError, &dl.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dead letter")
		}
		letters = append(letters, dl)
	}
	return letters, eris.Wrap(rows.Err(), "sqlite: list dead letters iterate")
}

func (s *SQLiteStore) RemoveDeadLetter(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: remove dead letter %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return model.NewNotFoundError("dead letter", id)
	}
	return nil
}

func (s *SQLiteStore) CountDeadLetters(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dead letters")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.IngestionJob, error) {
	var j model.IngestionJob
	var errorSummary sql.NullString

	err := row.Scan(&j.ID, &j.UserID, &j.Source, &j.FileName, &j.FilePath, &j.FileSize, &j.Checksum,
		&j.Status, &j.RowsTotal, &j.RowsSkipped, &errorSummary, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	if errorSummary.Valid {
		j.ErrorSummary = errorSummary.String
	}
	return &j, nil
}

func scanDecision(row scannable) (*model.Decision, error) {
	var d model.Decision
	err := row.Scan(&d.ID, &d.UserID, &d.JobID, &d.ResourceID, &d.PeriodStart, &d.Category, &d.RuleID,
		&d.Recommendation, &d.EstimatedSavings, &d.CostDelta, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan decision")
	}
	return &d, nil
}
