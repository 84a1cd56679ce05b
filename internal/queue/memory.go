package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// MemoryQueue is an in-process Queue for single-node (sqlite) deployments
// and tests. Tasks do not survive a restart.
type MemoryQueue struct {
	mu    sync.Mutex
	tasks map[string]*memoryTask
}

type memoryTask struct {
	Task
	status    string
	claimedAt time.Time
}

// NewMemory creates an empty MemoryQueue.
func NewMemory() *MemoryQueue {
	return &MemoryQueue{tasks: make(map[string]*memoryTask)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, kind string, payload any) (string, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	id := uuid.New().String()
	q.tasks[id] = &memoryTask{
		Task: Task{
			ID:        id,
			Kind:      kind,
			Payload:   data,
			RunAt:     now,
			CreatedAt: now,
		},
		status: StatusPending,
	}
	return id, nil
}

func (q *MemoryQueue) Claim(ctx context.Context, kind string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	var due []*memoryTask
	for _, t := range q.tasks {
		if t.Kind == kind && t.status == StatusPending && !t.RunAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].RunAt.Equal(due[j].RunAt) {
			return due[i].RunAt.Before(due[j].RunAt)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]Task, 0, len(due))
	for _, t := range due {
		t.status = StatusRunning
		t.Attempts++
		t.claimedAt = now
		claimed = append(claimed, t.Task)
	}
	return claimed, nil
}

func (q *MemoryQueue) Complete(ctx context.Context, taskID string) error {
	return q.setStatus(taskID, StatusDone, "")
}

func (q *MemoryQueue) Retry(ctx context.Context, taskID string, delay time.Duration, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return eris.Errorf("queue: task not found: %s", taskID)
	}
	t.status = StatusPending
	t.RunAt = time.Now().UTC().Add(delay)
	t.LastError = lastErr
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, taskID string, lastErr string) error {
	return q.setStatus(taskID, StatusFailed, lastErr)
}

func (q *MemoryQueue) ReleaseStale(ctx context.Context, lease time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().UTC().Add(-lease)
	released := 0
	for _, t := range q.tasks {
		if t.status == StatusRunning && t.claimedAt.Before(cutoff) {
			t.status = StatusPending
			released++
		}
	}
	return released, nil
}

// Status reports the status of a task. Test helper.
func (q *MemoryQueue) Status(taskID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok {
		return "", false
	}
	return t.status, true
}

func (q *MemoryQueue) setStatus(taskID, status, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return eris.Errorf("queue: task not found: %s", taskID)
	}
	t.status = status
	t.LastError = lastErr
	return nil
}
