package task

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sunward/taskpilot/internal/db"
	"github.com/sunward/taskpilot/internal/learning"
)

// forEachStore runs a subtest against both store implementations.
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})

	t.Run("sqlite", func(t *testing.T) {
		database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("open db: %v", err)
		}
		t.Cleanup(func() { _ = database.Close() })
		fn(t, NewSQLiteStore(database))
	})
}

func newTask(id string, priority int, createdAt time.Time) *Task {
	return &Task{
		ID:        id,
		Type:      "permit_submission",
		ProjectID: "proj-1",
		Status:    StatusPending,
		Priority:  priority,
		Input: map[string]any{
			"site":    "123 Main St",
			"context": map[string]any{"jurisdiction": "austin-tx"},
		},
		MaxRetries: 3,
		Version:    1,
		CreatedBy:  "alice",
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestStoreCreateGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		created := newTask("t1", 2, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

		if err := store.Create(ctx, created); err != nil {
			t.Fatalf("create: %v", err)
		}

		if err := store.Create(ctx, newTask("t1", 2, created.CreatedAt)); !errors.Is(err, ErrExists) {
			t.Errorf("duplicate create: got %v, want ErrExists", err)
		}

		got, err := store.Get(ctx, "t1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Type != "permit_submission" || got.ProjectID != "proj-1" {
			t.Errorf("got type=%q project=%q", got.Type, got.ProjectID)
		}
		if got.Status != StatusPending || got.Priority != 2 || got.Version != 1 {
			t.Errorf("got status=%q priority=%d version=%d", got.Status, got.Priority, got.Version)
		}
		if got.Input["site"] != "123 Main St" {
			t.Errorf("input not round-tripped: %v", got.Input)
		}
		if c := got.Context(); c["jurisdiction"] != "austin-tx" {
			t.Errorf("context not round-tripped: %v", c)
		}

		if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("get missing: got %v, want ErrNotFound", err)
		}
	})
}

func TestStoreUpdateRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		created := newTask("t1", 2, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
		if err := store.Create(ctx, created); err != nil {
			t.Fatalf("create: %v", err)
		}

		started := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
		done := started.Add(2 * time.Second)
		created.Status = StatusHumanCompleted
		created.Output = map[string]any{"permit_id": "ATX-1"}
		created.AIAttempt = &AIAttempt{
			StartedAt:        &started,
			CompletedAt:      &done,
			Confidence:       0.4,
			Error:            "low confidence",
			Result:           map[string]any{"draft": true},
			LearningsApplied: []string{"lrn-1"},
		}
		created.HumanFallback = &HumanFallback{
			Reason:      "confidence below threshold",
			EscalatedAt: &done,
			CompletedBy: "bob",
			CompletedAt: &done,
			Action:      "submitted_manually",
			Notes:       "used the older form",
			Output:      map[string]any{"permit_id": "ATX-1"},
		}
		created.LearningData = &LearningData{
			LearningID:  "lrn-2",
			HumanOutput: map[string]any{"permit_id": "ATX-1"},
			Delta:       learning.Delta{AIConfidence: 0.4, HumanProvided: true},
			Trainable:   true,
		}
		created.RetryCount = 1
		created.UpdatedAt = done

		if err := store.Update(ctx, created); err != nil {
			t.Fatalf("update: %v", err)
		}
		if created.Version != 2 {
			t.Errorf("version after update: got %d, want 2", created.Version)
		}

		got, err := store.Get(ctx, "t1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != StatusHumanCompleted || got.Version != 2 || got.RetryCount != 1 {
			t.Errorf("got status=%q version=%d retries=%d", got.Status, got.Version, got.RetryCount)
		}
		if got.AIAttempt == nil {
			t.Fatal("AIAttempt not persisted")
		}
		if got.AIAttempt.Confidence != 0.4 || got.AIAttempt.Error != "low confidence" {
			t.Errorf("attempt: %+v", got.AIAttempt)
		}
		if len(got.AIAttempt.LearningsApplied) != 1 || got.AIAttempt.LearningsApplied[0] != "lrn-1" {
			t.Errorf("applied learnings: %v", got.AIAttempt.LearningsApplied)
		}
		if got.HumanFallback == nil || got.HumanFallback.Action != "submitted_manually" {
			t.Errorf("fallback: %+v", got.HumanFallback)
		}
		if got.LearningData == nil || got.LearningData.LearningID != "lrn-2" || !got.LearningData.Delta.HumanProvided {
			t.Errorf("learning data: %+v", got.LearningData)
		}
		if got.Output["permit_id"] != "ATX-1" {
			t.Errorf("output: %v", got.Output)
		}
		if !got.Attempted() {
			t.Error("Attempted() = false after completed attempt")
		}
	})
}

func TestStoreUpdateVersionConflict(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.Create(ctx, newTask("t1", 2, time.Now().UTC())); err != nil {
			t.Fatalf("create: %v", err)
		}

		// Two readers load the same version.
		first, err := store.Get(ctx, "t1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		second, err := store.Get(ctx, "t1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}

		first.Status = StatusAIProcessing
		if err := store.Update(ctx, first); err != nil {
			t.Fatalf("first update: %v", err)
		}

		second.Status = StatusHumanNeeded
		if err := store.Update(ctx, second); !errors.Is(err, ErrConflict) {
			t.Errorf("second update: got %v, want ErrConflict", err)
		}

		got, err := store.Get(ctx, "t1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != StatusAIProcessing {
			t.Errorf("winner overwritten: status %q", got.Status)
		}

		missing := newTask("ghost", 2, time.Now().UTC())
		if err := store.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
			t.Errorf("update missing: got %v, want ErrNotFound", err)
		}
	})
}

func TestStoreListOrderingAndFilters(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		older := newTask("low-pri-old", 4, base)
		newer := newTask("high-pri", 1, base.Add(time.Hour))
		mid := newTask("mid-pri", 3, base.Add(30*time.Minute))
		mid.Type = "cad_design"
		mid.ProjectID = "proj-2"
		for _, task := range []*Task{older, newer, mid} {
			if err := store.Create(ctx, task); err != nil {
				t.Fatalf("create %s: %v", task.ID, err)
			}
		}

		all, err := store.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		wantOrder := []string{"high-pri", "mid-pri", "low-pri-old"}
		if len(all) != len(wantOrder) {
			t.Fatalf("list returned %d tasks, want %d", len(all), len(wantOrder))
		}
		for i, id := range wantOrder {
			if all[i].ID != id {
				t.Errorf("position %d: got %s, want %s", i, all[i].ID, id)
			}
		}

		byType, err := store.List(ctx, Filter{Type: "cad_design"})
		if err != nil {
			t.Fatalf("list by type: %v", err)
		}
		if len(byType) != 1 || byType[0].ID != "mid-pri" {
			t.Errorf("type filter: %v", ids(byType))
		}

		byProject, err := store.List(ctx, Filter{ProjectID: "proj-1"})
		if err != nil {
			t.Fatalf("list by project: %v", err)
		}
		if len(byProject) != 2 {
			t.Errorf("project filter: %v", ids(byProject))
		}

		limited, err := store.List(ctx, Filter{Limit: 1})
		if err != nil {
			t.Fatalf("list limited: %v", err)
		}
		if len(limited) != 1 || limited[0].ID != "high-pri" {
			t.Errorf("limit: %v", ids(limited))
		}
	})
}

func TestStoreListByAssignee(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		assigned := newTask("assigned", 2, now)
		if err := store.Create(ctx, assigned); err != nil {
			t.Fatalf("create: %v", err)
		}
		assigned.Status = StatusHumanProcessing
		assigned.HumanFallback = &HumanFallback{
			Reason:     "complex roof",
			AssignedTo: "bob",
			AssignedAt: &now,
		}
		if err := store.Update(ctx, assigned); err != nil {
			t.Fatalf("update: %v", err)
		}

		if err := store.Create(ctx, newTask("unassigned", 2, now)); err != nil {
			t.Fatalf("create: %v", err)
		}

		got, err := store.List(ctx, Filter{AssignedTo: "bob"})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 1 || got[0].ID != "assigned" {
			t.Errorf("assignee filter: %v", ids(got))
		}
	})
}

func TestFilterEffectiveLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{0, MaxQueueLimit},
		{-1, MaxQueueLimit},
		{50, 50},
		{MaxQueueLimit + 1, MaxQueueLimit},
	}
	for _, tt := range tests {
		if got := (Filter{Limit: tt.limit}).EffectiveLimit(); got != tt.want {
			t.Errorf("EffectiveLimit(%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	if !StatusPending.Processable() || !StatusAIFailed.Processable() {
		t.Error("pending and ai_failed must be processable")
	}
	if StatusAICompleted.Processable() || StatusHumanNeeded.Processable() {
		t.Error("terminal and human statuses must not be processable")
	}
	if !StatusHumanNeeded.HumanCompletable() || !StatusHumanProcessing.HumanCompletable() {
		t.Error("human lane statuses must be completable")
	}
	if !StatusAICompleted.Terminal() || !StatusHumanCompleted.Terminal() {
		t.Error("completed statuses must be terminal")
	}
	if Status("bogus").Valid() {
		t.Error("unknown status must not validate")
	}
}

func ids(tasks []*Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
