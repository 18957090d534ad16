package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunward/taskpilot/internal/db"
	"github.com/sunward/taskpilot/internal/learning"
	"github.com/sunward/taskpilot/internal/task"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

// seedTask creates a task and optionally moves it to a final state with a
// completed attempt.
func seedTask(t *testing.T, store task.Store, id, taskType string, priority int, final task.Status, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()

	tk := &task.Task{
		ID:         id,
		Type:       taskType,
		ProjectID:  "proj-1",
		Status:     task.StatusPending,
		Priority:   priority,
		Input:      map[string]any{"site": "x"},
		MaxRetries: 3,
		Version:    1,
		CreatedBy:  "alice",
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	require.NoError(t, store.Create(ctx, tk))

	if final == task.StatusPending {
		return
	}

	done := createdAt.Add(90 * time.Second)
	tk.Status = final
	tk.AIAttempt = &task.AIAttempt{
		StartedAt:   &createdAt,
		CompletedAt: &done,
		Confidence:  0.9,
	}
	tk.UpdatedAt = done
	require.NoError(t, store.Update(ctx, tk))
}

func TestComputeAggregates(t *testing.T) {
	database := openTestDB(t)
	tasks := task.NewSQLiteStore(database)
	learnings := learning.NewSQLiteStore(database)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seedTask(t, tasks, "t1", "permit_submission", 2, task.StatusAICompleted, base)
	seedTask(t, tasks, "t2", "permit_submission", 3, task.StatusHumanNeeded, base.Add(time.Minute))
	seedTask(t, tasks, "t3", "document_generation", 1, task.StatusAICompleted, base.Add(2*time.Minute))
	seedTask(t, tasks, "t4", "cad_design", 3, task.StatusPending, base.Add(3*time.Minute))

	require.NoError(t, learnings.Create(ctx, &learning.Learning{
		ID: "l1", TaskType: "permit_submission", TaskID: "t2",
		Pattern: "p", Confidence: 0.5, CreatedBy: "bob", CreatedAt: base,
	}))
	require.NoError(t, learnings.Create(ctx, &learning.Learning{
		ID: "l2", TaskType: "permit_submission", TaskID: "t2",
		Pattern: "p", Confidence: 0.6, CreatedBy: "bob", CreatedAt: base,
	}))

	result, err := New(database, learnings).Compute(ctx, task.Filter{})
	require.NoError(t, err)

	assert.Equal(t, 4, result.TotalTasks)
	assert.Equal(t, 2, result.ByStatus[string(task.StatusAICompleted)])
	assert.Equal(t, 1, result.ByStatus[string(task.StatusHumanNeeded)])
	assert.Equal(t, 1, result.ByStatus[string(task.StatusPending)])
	assert.Equal(t, 2, result.ByType["permit_submission"])

	// Three attempts completed, two ended in ai_completed.
	assert.Equal(t, 3, result.AIAttempted)
	assert.Equal(t, 2, result.AISucceeded)
	assert.InDelta(t, 66.666, result.AISuccessRate, 0.01)

	assert.Greater(t, result.AvgResolutionMs, int64(0))

	assert.Equal(t, 2, result.TotalLearnings)
	assert.Equal(t, 2, result.LearningsByType["permit_submission"])
}

func TestComputeFiltered(t *testing.T) {
	database := openTestDB(t)
	tasks := task.NewSQLiteStore(database)
	learnings := learning.NewSQLiteStore(database)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seedTask(t, tasks, "t1", "permit_submission", 2, task.StatusAICompleted, base)
	seedTask(t, tasks, "t2", "permit_submission", 3, task.StatusHumanNeeded, base.Add(time.Minute))
	seedTask(t, tasks, "t3", "document_generation", 1, task.StatusAICompleted, base.Add(2*time.Minute))

	require.NoError(t, learnings.Create(ctx, &learning.Learning{
		ID: "l1", TaskType: "permit_submission", TaskID: "t2",
		Pattern: "p", Confidence: 0.5, CreatedBy: "bob", CreatedAt: base,
	}))
	require.NoError(t, learnings.Create(ctx, &learning.Learning{
		ID: "l2", TaskType: "document_generation", TaskID: "t3",
		Pattern: "p", Confidence: 0.5, CreatedBy: "bob", CreatedAt: base,
	}))

	// A type filter restricts every aggregate, learnings included.
	result, err := New(database, learnings).Compute(ctx, task.Filter{Type: "permit_submission"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalTasks)
	assert.Equal(t, 1, result.ByStatus[string(task.StatusAICompleted)])
	assert.Equal(t, 0, result.ByType["document_generation"])
	assert.Equal(t, 2, result.AIAttempted)
	assert.Equal(t, 1, result.AISucceeded)
	assert.InDelta(t, 50.0, result.AISuccessRate, 0.01)
	assert.Equal(t, 1, result.TotalLearnings)
	assert.Equal(t, 0, result.LearningsByType["document_generation"])

	// Status narrows without touching the learning coverage counts.
	result, err = New(database, learnings).Compute(ctx, task.Filter{Status: task.StatusHumanNeeded})
	require.NoError(t, err)

	assert.Equal(t, 1, result.TotalTasks)
	assert.Equal(t, 1, result.AIAttempted)
	assert.Equal(t, 0, result.AISucceeded)
	assert.Zero(t, result.AvgResolutionMs)
	assert.Equal(t, 2, result.TotalLearnings)
}

func TestComputeEmptyDatabase(t *testing.T) {
	database := openTestDB(t)
	learnings := learning.NewSQLiteStore(database)

	result, err := New(database, learnings).Compute(context.Background(), task.Filter{})
	require.NoError(t, err)

	assert.Equal(t, 0, result.TotalTasks)
	assert.Equal(t, 0, result.AIAttempted)
	assert.Zero(t, result.AISuccessRate)
	assert.Zero(t, result.AvgResolutionMs)
	assert.Equal(t, 0, result.TotalLearnings)
}

func TestQueueView(t *testing.T) {
	store := task.NewMemoryStore()
	base := time.Now().UTC().Add(-time.Hour)

	seedTask(t, store, "old-low", "permit_submission", 4, task.StatusPending, base)
	seedTask(t, store, "urgent", "cad_design", 1, task.StatusPending, base.Add(30*time.Minute))

	entries, err := Queue(context.Background(), store, task.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Priority wins over age.
	assert.Equal(t, "urgent", entries[0].ID)
	assert.Equal(t, "old-low", entries[1].ID)
	assert.Equal(t, "0/3", entries[0].Retries)
	assert.NotEmpty(t, entries[0].Age)

	filtered, err := Queue(context.Background(), store, task.Filter{Type: "cad_design"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "urgent", filtered[0].ID)
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "0s"},
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{3*time.Hour + 20*time.Minute, "3h 20m"},
		{50 * time.Hour, "2d 2h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatAge(tt.d))
	}
}
