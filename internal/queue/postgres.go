package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sightline-analytics/costlens/internal/db"
)

// PostgresQueue implements Queue on a tasks table. Claiming uses
// FOR UPDATE SKIP LOCKED so concurrent workers never double-claim.
type PostgresQueue struct {
	pool db.Pool
}

// NewPostgres creates a PostgresQueue on the given pool.
func NewPostgres(pool db.Pool) *PostgresQueue {
	return &PostgresQueue{pool: pool}
}

const postgresQueueMigration = `
CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	payload    JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	attempts   INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	run_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	claimed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(kind, status, run_at);
`

func (q *PostgresQueue) Migrate(ctx context.Context) error {
	_, err := q.pool.Exec(ctx, postgresQueueMigration)
	return eris.Wrap(err, "queue: migrate")
}

func (q *PostgresQueue) Enqueue(ctx context.Context, kind string, payload any) (string, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	_, err = q.pool.Exec(ctx,
		`INSERT INTO tasks (id, kind, payload, status, run_at, created_at)
		 VALUES ($1, $2, $3, 'pending', now(), now())`,
		id, kind, data,
	)
	if err != nil {
		return "", eris.Wrapf(err, "queue: enqueue %s", kind)
	}
	return id, nil
}

func (q *PostgresQueue) Claim(ctx context.Context, kind string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "queue: begin claim tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, kind, payload, attempts, last_error, run_at, created_at
		FROM tasks
		WHERE kind = $1 AND status = 'pending' AND run_at <= now()
		ORDER BY run_at, created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		kind, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "queue: claim rows")
	}

	var claimed []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Kind, &t.Payload, &t.Attempts, &t.LastError, &t.RunAt, &t.CreatedAt); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "queue: scan task")
		}
		claimed = append(claimed, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "queue: iterate tasks")
	}

	if len(claimed) == 0 {
		_ = tx.Commit(ctx)
		return nil, nil
	}

	ids := make([]string, len(claimed))
	for i, t := range claimed {
		ids[i] = t.ID
	}
	_, err = tx.Exec(ctx, `
		UPDATE tasks
		SET status = 'running', attempts = attempts + 1, claimed_at = now()
		WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, eris.Wrap(err, "queue: mark running")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "queue: commit claim")
	}

	for i := range claimed {
		claimed[i].Attempts++
	}
	return claimed, nil
}

func (q *PostgresQueue) Complete(ctx context.Context, taskID string) error {
	_, err := q.pool.Exec(ctx,
		`UPDATE tasks SET status = 'done', last_error = '' WHERE id = $1`,
		taskID,
	)
	return eris.Wrapf(err, "queue: complete %s", taskID)
}

func (q *PostgresQueue) Retry(ctx context.Context, taskID string, delay time.Duration, lastErr string) error {
	_, err := q.pool.Exec(ctx,
		`UPDATE tasks SET status = 'pending', run_at = now() + $1, last_error = $2, claimed_at = NULL WHERE id = $3`,
		delay, lastErr, taskID,
	)
	return eris.Wrapf(err, "queue: retry %s", taskID)
}

func (q *PostgresQueue) Fail(ctx context.Context, taskID string, lastErr string) error {
	_, err := q.pool.Exec(ctx,
		`UPDATE tasks SET status = 'failed', last_error = $1 WHERE id = $2`,
		lastErr, taskID,
	)
	return eris.Wrapf(err, "queue: fail %s", taskID)
}

func (q *PostgresQueue) ReleaseStale(ctx context.Context, lease time.Duration) (int, error) {
	tag, err := q.pool.Exec(ctx,
		`UPDATE tasks SET status = 'pending', claimed_at = NULL
		 WHERE status = 'running' AND claimed_at < now() - $1`,
		lease,
	)
	if err != nil {
		return 0, eris.Wrap(err, "queue: release stale")
	}
	return int(tag.RowsAffected()), nil
}
