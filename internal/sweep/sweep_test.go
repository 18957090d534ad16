package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunward/taskpilot/internal/task"
)

func seedProcessing(t *testing.T, store *task.MemoryStore, id string, retryCount int, updatedAt time.Time) {
	t.Helper()
	tk := &task.Task{
		ID:         id,
		Type:       "permit_submission",
		ProjectID:  "proj-1",
		Status:     task.StatusAIProcessing,
		Priority:   3,
		Input:      map[string]any{"site": "x"},
		AIAttempt:  &task.AIAttempt{StartedAt: &updatedAt},
		RetryCount: retryCount,
		MaxRetries: 3,
		Version:    1,
		CreatedBy:  "alice",
		CreatedAt:  updatedAt,
		UpdatedAt:  updatedAt,
	}
	require.NoError(t, store.Create(context.Background(), tk))
}

func TestSweepRecoversStuckTasks(t *testing.T) {
	store := task.NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedProcessing(t, store, "stuck", 0, now.Add(-30*time.Minute))
	seedProcessing(t, store, "fresh", 0, now.Add(-5*time.Minute))

	s := New(store, 15*time.Minute)
	s.nowFunc = func() time.Time { return now }

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Recovered)
	assert.Equal(t, 0, res.Escalated)

	stuck, err := store.Get(context.Background(), "stuck")
	require.NoError(t, err)
	assert.Equal(t, task.StatusAIFailed, stuck.Status)
	assert.Equal(t, 1, stuck.RetryCount)
	require.NotNil(t, stuck.AIAttempt)
	assert.Equal(t, "processing timed out", stuck.AIAttempt.Error)
	assert.NotNil(t, stuck.AIAttempt.CompletedAt)

	// The fresh in-progress task is untouched.
	fresh, err := store.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, task.StatusAIProcessing, fresh.Status)
	assert.Equal(t, 0, fresh.RetryCount)
}

func TestSweepEscalatesAtRetryCeiling(t *testing.T) {
	store := task.NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedProcessing(t, store, "exhausted", 2, now.Add(-time.Hour))

	s := New(store, 15*time.Minute)
	s.nowFunc = func() time.Time { return now }

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Escalated)
	assert.Equal(t, 0, res.Recovered)

	got, err := store.Get(context.Background(), "exhausted")
	require.NoError(t, err)
	assert.Equal(t, task.StatusHumanNeeded, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	require.NotNil(t, got.HumanFallback)
	assert.Contains(t, got.HumanFallback.Reason, "retry limit")
}

func TestSweepEmptyQueue(t *testing.T) {
	s := New(task.NewMemoryStore(), 0)
	assert.Equal(t, DefaultProcessingTTL, s.ttl)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}
