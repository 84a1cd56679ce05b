package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sightline-analytics/costlens/internal/db"
	"github.com/sightline-analytics/costlens/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_job":            `SELECT id, user_id, source, file_name, file_path, file_size, checksum, status, rows_total, rows_skipped, error_summary, created_at, updated_at FROM jobs WHERE id = $1`,
	"transition_job":     `UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
	"get_benchmark":      `SELECT provider, resource_type, region, min_cost, max_cost FROM benchmarks WHERE provider = $1 AND resource_type = $2 AND region IN ($3, '') ORDER BY (region = $3) DESC LIMIT 1`,
	"get_decision":       `SELECT id, user_id, job_id, resource_id, period_start, category, rule_id, recommendation, estimated_savings, cost_delta, status, created_at, updated_at FROM decisions WHERE id = $1`,
	"append_webhook_log": `INSERT INTO webhook_logs (id, decision_id, attempt, success, status_code, error, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for use by subsystems that need
// direct query access (e.g., the task queue).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id       TEXT NOT NULL,
	source        TEXT NOT NULL,
	file_name     TEXT NOT NULL,
	file_path     TEXT NOT NULL,
	file_size     BIGINT NOT NULL DEFAULT 0,
	checksum      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	rows_total    INTEGER NOT NULL DEFAULT 0,
	rows_skipped  INTEGER NOT NULL DEFAULT 0,
	error_summary TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
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
	cost_amount    DOUBLE PRECISION NOT NULL,
	usage_quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
	period_start   TIMESTAMPTZ NOT NULL,
	period_end     TIMESTAMPTZ NOT NULL,
	tags           JSONB NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_metadata_records_job_id ON metadata_records(job_id);
CREATE INDEX IF NOT EXISTS idx_metadata_records_resource ON metadata_records(resource_id, period_start);

CREATE TABLE IF NOT EXISTS classifications (
	record_id     TEXT PRIMARY KEY REFERENCES metadata_records(id) ON DELETE CASCADE,
	category      TEXT NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	rule_id       TEXT NOT NULL,
	classified_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS benchmarks (
	provider      TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	region        TEXT NOT NULL,
	min_cost      DOUBLE PRECISION NOT NULL,
	max_cost      DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (provider, resource_type, region)
);

CREATE TABLE IF NOT EXISTS decisions (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	job_id            TEXT NOT NULL,
	resource_id       TEXT NOT NULL,
	period_start      TIMESTAMPTZ NOT NULL,
	category          TEXT NOT NULL DEFAULT '',
	rule_id           TEXT NOT NULL DEFAULT '',
	recommendation    TEXT NOT NULL,
	estimated_savings DOUBLE PRECISION NOT NULL DEFAULT 0,
	cost_delta        DOUBLE PRECISION NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'pending',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (resource_id, period_start)
);

CREATE INDEX IF NOT EXISTS idx_decisions_user_id ON decisions(user_id);
CREATE INDEX IF NOT EXISTS idx_decisions_status ON decisions(status);
CREATE INDEX IF NOT EXISTS idx_decisions_job_id ON decisions(job_id);

CREATE TABLE IF NOT EXISTS webhook_logs (
	id          TEXT PRIMARY KEY,
	decision_id TEXT NOT NULL,
	attempt     INTEGER NOT NULL,
	success     BOOLEAN NOT NULL,
	status_code INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_webhook_logs_decision_id ON webhook_logs(decision_id);

CREATE TABLE IF NOT EXISTS dead_letters (
	id          TEXT PRIMARY KEY,
	decision_id TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	payload     JSONB NOT NULL,
	attempts    INTEGER NOT NULL,
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Jobs

func (s *PostgresStore) CreateJob(ctx context.Context, job model.IngestionJob) (*model.IngestionJob, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = model.JobStatusPending
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, user_id, source, file_name, file_path, file_size, checksum, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.UserID, job.Source, job.FileName, job.FilePath, job.FileSize, job.Checksum,
		string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}
	return &job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.IngestionJob, error) {
	var j model.IngestionJob
	var errorSummary *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, source, file_name, file_path, file_size, checksum, status, rows_total, rows_skipped, error_summary, created_at, updated_at
		 FROM jobs WHERE id = $1`,
		jobID,
	).Scan(&j.ID, &j.UserID, &j.Source, &j.FileName, &j.FilePath, &j.FileSize, &j.Checksum,
		&j.Status, &j.RowsTotal, &j.RowsSkipped, &errorSummary, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewNotFoundError("job", jobID)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	if errorSummary != nil {
		j.ErrorSummary = *errorSummary
	}
	return &j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.IngestionJob, error) {
	query := `SELECT id, user_id, source, file_name, file_path, file_size, checksum, status, rows_total, rows_skipped, error_summary, created_at, updated_at FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.IngestionJob
	for rows.Next() {
		var j model.IngestionJob
		var errorSummary *string
		if err := rows.Scan(&j.ID, &j.UserID, &j.Source, &j.FileName, &j.FilePath, &j.FileSize, &j.Checksum,
			&j.Status, &j.RowsTotal, &j.RowsSkipped, &errorSummary, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		if errorSummary != nil {
			j.ErrorSummary = *errorSummary
		}
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) TransitionJob(ctx context.Context, jobID string, from, to model.JobStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), time.Now().UTC(), jobID, string(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition job %s", jobID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) FinishJob(ctx context.Context, jobID string, status model.JobStatus, rowsTotal, rowsSkipped int, errorSummary string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, rows_total = $2, rows_skipped = $3, error_summary = $4, updated_at = $5
		 WHERE id = $6 AND status = $7`,
		string(status), rowsTotal, rowsSkipped, errorSummary, time.Now().UTC(),
		jobID, string(model.JobStatusProcessing),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: finish job %s", jobID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DeleteExpiredJobs(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM jobs WHERE updated_at < $1 AND status IN ($2, $3, $4, $5) RETURNING file_path`,
		before,
		string(model.JobStatusCompleted), string(model.JobStatusCompletedWithErrors),
		string(model.JobStatusFailed), string(model.JobStatusCancelled),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: delete expired jobs")
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, eris.Wrap(err, "postgres: scan expired job path")
		}
		paths = append(paths, p)
	}
	return paths, eris.Wrap(rows.Err(), "postgres: delete expired jobs iterate")
}

// Metadata records

var recordColumns = []string{
	"id", "job_id", "user_id", "resource_id", "provider", "resource_type",
	"region", "cost_amount", "usage_quantity", "period_start", "period_end",
	"tags", "created_at",
}

func (s *PostgresStore) InsertRecords(ctx context.Context, records []model.MetadataRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		tagsJSON, err := json.Marshal(r.Tags)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal tags")
		}
		rows = append(rows, []any{
			r.ID, r.JobID, r.UserID, r.ResourceID, r.Provider, r.ResourceType,
			r.Region, r.CostAmount, r.UsageQuantity, r.PeriodStart, r.PeriodEnd,
			tagsJSON, r.CreatedAt,
		})
	}

	return db.CopyFrom(ctx, s.pool, "metadata_records", recordColumns, rows)
}

func (s *PostgresStore) DeleteRecordsByJob(ctx context.Context, jobID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM metadata_records WHERE job_id = $1`, jobID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete records for job %s", jobID)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListRecordsByJob(ctx context.Context, jobID string) ([]model.MetadataRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, user_id, resource_id, provider, resource_type, region, cost_amount, usage_quantity, period_start, period_end, tags, created_at
		 FROM metadata_records WHERE job_id = $1 ORDER BY created_at, id`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list records for job %s", jobID)
	}
	defer rows.Close()

	var records []model.MetadataRecord
	for rows.Next() {
		var r model.MetadataRecord
		var tagsJSON []byte
		if err := rows.Scan(&r.ID, &r.JobID, &r.UserID, &r.ResourceID, &r.Provider, &r.ResourceType,
			&r.Region, &r.CostAmount, &r.UsageQuantity, &r.PeriodStart, &r.PeriodEnd, &tagsJSON, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		if err := json.Unmarshal(tagsJSON, &r.Tags); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal tags")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

// Classifications

func (s *PostgresStore) SaveClassification(ctx context.Context, result model.ClassificationResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO classifications (record_id, category, confidence, rule_id, classified_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (record_id) DO UPDATE SET category = $2, confidence = $3, rule_id = $4, classified_at = $5`,
		result.RecordID, result.Category, result.Confidence, result.RuleID, result.ClassifiedAt,
	)
	return eris.Wrap(err, "postgres: save classification")
}

// Benchmarks

var benchmarkColumns = []string{"provider", "resource_type", "region", "min_cost", "max_cost"}

func (s *PostgresStore) UpsertBenchmarks(ctx context.Context, benchmarks []model.Benchmark) (int64, error) {
	if len(benchmarks) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(benchmarks))
	for _, b := range benchmarks {
		rows = append(rows, []any{b.Provider, b.ResourceType, b.Region, b.MinCost, b.MaxCost})
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "benchmarks",
		Columns:      benchmarkColumns,
		ConflictKeys: []string{"provider", "resource_type", "region"},
	}, rows)
}

func (s *PostgresStore) GetBenchmark(ctx context.Context, provider, resourceType, region string) (*model.Benchmark, error) {
	var b model.Benchmark
	// Prefer the region-specific benchmark, falling back to the
	// region-agnostic one.
	err := s.pool.QueryRow(ctx,
		`SELECT provider, resource_type, region, min_cost, max_cost FROM benchmarks
		 WHERE provider = $1 AND resource_type = $2 AND region IN ($3, '')
		 ORDER BY (region = $3) DESC LIMIT 1`,
		provider, resourceType, region,
	).Scan(&b.Provider, &b.ResourceType, &b.Region, &b.MinCost, &b.MaxCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get benchmark")
	}
	return &b, nil
}

// Decisions

func (s *PostgresStore) UpsertDecision(ctx context.Context, d model.Decision) (*model.Decision, DecisionOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, "", eris.Wrap(err, "postgres: upsert decision: begin tx")
	}
	defer tx.Rollback(ctx)

	var existing model.Decision
	err = tx.QueryRow(ctx,
		`SELECT id, user_id, job_id, resource_id, period_start, category, rule_id, recommendation, estimated_savings, cost_delta, status, created_at, updated_at
		 FROM decisions WHERE resource_id = $1 AND period_start = $2 FOR UPDATE`,
		d.ResourceID, d.PeriodStart,
	).Scan(&existing.ID, &existing.UserID, &existing.JobID, &existing.ResourceID, &existing.PeriodStart,
		&existing.Category, &existing.RuleID, &existing.Recommendation, &existing.EstimatedSavings,
		&existing.CostDelta, &existing.Status, &existing.CreatedAt, &existing.UpdatedAt)

	now := time.Now().UTC()

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		d.ID = uuid.New().String()
		d.Status = model.DecisionStatusPending
		d.CreatedAt = now
		d.UpdatedAt = now
		_, err = tx.Exec(ctx,
			`INSERT INTO decisions (id, user_id, job_id, resource_id, period_start, category, rule_id, recommendation, estimated_savings, cost_delta, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			d.ID, d.UserID, d.JobID, d.ResourceID, d.PeriodStart, d.Category, d.RuleID,
			d.Recommendation, d.EstimatedSavings, d.CostDelta, string(d.Status), d.CreatedAt, d.UpdatedAt,
		)
		if err != nil {
			return nil, "", eris.Wrap(err, "postgres: insert decision")
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, "", eris.Wrap(err, "postgres: upsert decision: commit")
		}
		return &d, DecisionCreated, nil

	case err != nil:
		return nil, "", eris.Wrap(err, "postgres: find decision")

	case existing.Status != model.DecisionStatusPending:
		if err := tx.Commit(ctx); err != nil {
			return nil, "", eris.Wrap(err, "postgres: upsert decision: commit")
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
		_, err = tx.Exec(ctx,
			`UPDATE decisions SET job_id = $1, category = $2, rule_id = $3, recommendation = $4, estimated_savings = $5, cost_delta = $6, updated_at = $7
			 WHERE id = $8`,
			existing.JobID, existing.Category, existing.RuleID, existing.Recommendation,
			existing.EstimatedSavings, existing.CostDelta, existing.UpdatedAt, existing.ID,
		)
		if err != nil {
			return nil, "", eris.Wrap(err, "postgres: update decision")
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, "", eris.Wrap(err, "postgres: upsert decision: commit")
		}
		return &existing, DecisionUpdated, nil
	}
}

func (s *PostgresStore) GetDecision(ctx context.Context, decisionID string) (*model.Decision, error) {
	var d model.Decision
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, job_id, resource_id, period_start, category, rule_id, recommendation, estimated_savings, cost_delta, status, created_at, updated_at
		 FROM decisions WHERE id = $1`,
		decisionID,
	).Scan(&d.ID, &d.UserID, &d.JobID, &d.ResourceID, &d.PeriodStart, &d.Category, &d.RuleID,
		&d.Recommendation, &d.EstimatedSavings, &d.CostDelta, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewNotFoundError("decision", decisionID)
		}
		return nil, eris.Wrapf(err, "postgres: get decision %s", decisionID)
	}
	return &d, nil
}

func (s *PostgresStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.Decision, error) {
	query := `SELECT id, user_id, job_id, resource_id, period_start, category, rule_id, recommendation, estimated_savings, cost_delta, status, created_at, updated_at FROM decisions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Recommendation != "" {
		query += fmt.Sprintf(` AND recommendation = $%d`, argIdx)
		args = append(args, filter.Recommendation)
		argIdx++
	}
	if filter.JobID != "" {
		query += fmt.Sprintf(` AND job_id = $%d`, argIdx)
		args = append(args, filter.JobID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list decisions")
	}
	defer rows.Close()

	var decisions []model.Decision
	for rows.Next() {
		var d model.Decision
		if err := rows.Scan(&d.ID, &d.UserID, &d.JobID, &d.ResourceID, &d.PeriodStart, &d.Category, &d.RuleID,
			&d.Recommendation, &d.EstimatedSavings, &d.CostDelta, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision")
		}
		decisions = append(decisions, d)
	}
	return decisions, eris.Wrap(rows.Err(), "postgres: list decisions iterate")
}

func (s *PostgresStore) UpdateDecisionStatus(ctx context.Context, decisionID string, from, to model.DecisionStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE decisions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), time.Now().UTC(), decisionID, string(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update decision status %s", decisionID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetDecisionStats(ctx context.Context, userID string) (*DecisionStats, error) {
	var stats DecisionStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'pending'),
		        COUNT(*) FILTER (WHERE status = 'approved'),
		        COUNT(*) FILTER (WHERE status = 'dismissed'),
		        COALESCE(SUM(estimated_savings), 0)
		 FROM decisions WHERE user_id = $1`,
		userID,
	).Scan(&stats.Total, &stats.Pending, &stats.Approved, &stats.Dismissed, &stats.EstimatedSavings)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: decision stats")
	}
	return &stats, nil
}

// Webhook delivery log

func (s *PostgresStore) AppendWebhookLog(ctx context.Context, entry model.WebhookLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_logs (id, decision_id, attempt, success, status_code, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.DecisionID, entry.Attempt, entry.Success, entry.StatusCode, entry.Error, entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append webhook log")
}

func (s *PostgresStore) ListWebhookLogs(ctx context.Context, decisionID string) ([]model.WebhookLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, decision_id, attempt, success, status_code, error, created_at
		 FROM webhook_logs WHERE decision_id = $1 ORDER BY created_at, attempt`,
		decisionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list webhook logs")
	}
	defer rows.Close()

	var entries []model.WebhookLogEntry
	for rows.Next() {
		var e model.WebhookLogEntry
		if err := rows.Scan(&e.ID, &e.DecisionID, &e.Attempt, &e.Success, &e.StatusCode, &e.Error, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan webhook log")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list webhook logs iterate")
}

// Dead letters

func (s *PostgresStore) AddDeadLetter(ctx context.Context, dl model.DeadLetter) error {
	if dl.ID == "" {
		dl.ID = uuid.New().String()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letters (id, decision_id, event_type, payload, attempts, last_error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		dl.ID, dl.DecisionID, dl.EventType, dl.Payload, dl.Attempts, dl.LastError, dl.CreatedAt,
	)
	return eris.Wrap(err, "postgres: add dead letter")
}

func (s *PostgresStore) ListDeadLetters(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, decision_id, event_type, payload, attempts, last_error, created_at
		 FROM dead_letters ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dead letters")
	}
	defer rows.Close()

	var letters []model.DeadLetter
	for rows.Next() {
		var dl model.DeadLetter
		if err := rows.Scan(&dl.ID, &dl.DecisionID, &dl.EventType, &dl.Payload, &dl.Attempts, &dl.LastError, &dl.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dead letter")
		}
		letters = append(letters, dl)
	}
	return letters, eris.Wrap(rows.Err(), "postgres: list dead letters iterate")
}

func (s *PostgresStore) RemoveDeadLetter(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: remove dead letter %s", id)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError("dead letter", id)
	}
	return nil
}

func (s *PostgresStore) CountDeadLetters(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dead letters")
}
