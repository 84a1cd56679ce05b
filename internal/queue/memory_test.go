package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_EnqueueClaim(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "extract", map[string]string{"job_id": "job-1"})
	require.NoError(t, err)

	tasks, err := q.Claim(ctx, "extract", 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)
	assert.Equal(t, 1, tasks[0].Attempts)
	assert.JSONEq(t, `{"job_id":"job-1"}`, string(tasks[0].Payload))

	// a claimed task is invisible to other claimers
	tasks, err = q.Claim(ctx, "extract", 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestMemoryQueue_ClaimFiltersByKind(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "extract", nil)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "deliver", nil)
	require.NoError(t, err)

	tasks, err := q.Claim(ctx, "deliver", 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "deliver", tasks[0].Kind)
}

func TestMemoryQueue_RetryDelaysTask(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "extract", nil)
	require.NoError(t, err)

	tasks, err := q.Claim(ctx, "extract", 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	require.NoError(t, q.Retry(ctx, id, time.Hour, "flaky"))

	// not due yet
	tasks, err = q.Claim(ctx, "extract", 1)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	require.NoError(t, q.Retry(ctx, id, 0, "flaky"))
	tasks, err = q.Claim(ctx, "extract", 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 2, tasks[0].Attempts)
	assert.Equal(t, "flaky", tasks[0].LastError)
}

func TestMemoryQueue_CompleteAndFail(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	id1, _ := q.Enqueue(ctx, "extract", nil)
	id2, _ := q.Enqueue(ctx, "extract", nil)

	_, err := q.Claim(ctx, "extract", 2)
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, id1))
	require.NoError(t, q.Fail(ctx, id2, "boom"))

	st, ok := q.Status(id1)
	require.True(t, ok)
	assert.Equal(t, StatusDone, st)

	st, ok = q.Status(id2)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, st)

	tasks, err := q.Claim(ctx, "extract", 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestMemoryQueue_ReleaseStale(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	id, _ := q.Enqueue(ctx, "extract", nil)
	_, err := q.Claim(ctx, "extract", 1)
	require.NoError(t, err)

	// fresh claim is not stale
	n, err := q.ReleaseStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = q.ReleaseStale(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, _ := q.Status(id)
	assert.Equal(t, StatusPending, st)
}
