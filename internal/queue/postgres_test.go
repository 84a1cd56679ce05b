package queue

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresQueue(t *testing.T) (*PostgresQueue, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgres(mock), mock
}

func TestPostgresQueue_Enqueue(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectExec(`INSERT INTO tasks`).
		WithArgs(pgxmock.AnyArg(), "extract", []byte(`{"job_id":"job-1"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := q.Enqueue(context.Background(), "extract", map[string]string{"job_id": "job-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_Claim(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, kind, payload, attempts, last_error, run_at, created_at\s+FROM tasks\s+WHERE kind = \$1 AND status = 'pending' AND run_at <= now\(\)`).
		WithArgs("extract", 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "kind", "payload", "attempts", "last_error", "run_at", "created_at"}).
			AddRow("task-1", "extract", []byte(`{}`), 0, "", now, now))
	mock.ExpectExec(`UPDATE tasks\s+SET status = 'running', attempts = attempts \+ 1, claimed_at = now\(\)`).
		WithArgs([]string{"task-1"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	tasks, err := q.Claim(context.Background(), "extract", 5)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "task-1", tasks[0].ID)
	assert.Equal(t, 1, tasks[0].Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_Claim_Empty(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, kind, payload, attempts, last_error, run_at, created_at`).
		WithArgs("extract", 1).
		WillReturnRows(pgxmock.NewRows([]string{"id", "kind", "payload", "attempts", "last_error", "run_at", "created_at"}))
	mock.ExpectCommit()
	mock.ExpectRollback()

	tasks, err := q.Claim(context.Background(), "extract", 1)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_RetryAndFail(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectExec(`UPDATE tasks SET status = 'pending', run_at = now\(\) \+ \$1`).
		WithArgs(30*time.Second, "flaky", "task-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE tasks SET status = 'failed', last_error = \$1`).
		WithArgs("boom", "task-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, q.Retry(context.Background(), "task-1", 30*time.Second, "flaky"))
	require.NoError(t, q.Fail(context.Background(), "task-2", "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_ReleaseStale(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectExec(`UPDATE tasks SET status = 'pending', claimed_at = NULL\s+WHERE status = 'running' AND claimed_at < now\(\) - \$1`).
		WithArgs(10 * time.Minute).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := q.ReleaseStale(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
