package learning

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sunward/taskpilot/internal/db"
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

func newLearning(id string, confidence float64, createdAt time.Time) *Learning {
	return &Learning{
		ID:          id,
		TaskType:    "permit_submission",
		TaskID:      "task-" + id,
		Context:     map[string]string{"jurisdiction": "austin-tx"},
		Pattern:     "permit_submission: human submitted_manually",
		HumanAction: "submitted_manually",
		HumanInput:  map[string]any{"permit_id": "ATX-1"},
		Delta:       Delta{AIConfidence: 0.4, HumanProvided: true},
		Confidence:  confidence,
		Trainable:   true,
		CreatedBy:   "bob",
		CreatedAt:   createdAt,
	}
}

func TestStoreCreateGetRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		l := newLearning("l1", 0.5, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
		if err := store.Create(ctx, l); err != nil {
			t.Fatalf("create: %v", err)
		}

		got, err := store.Get(ctx, "l1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.TaskType != "permit_submission" || got.TaskID != "task-l1" {
			t.Errorf("got type=%q task=%q", got.TaskType, got.TaskID)
		}
		if got.Confidence != 0.5 || !got.Trainable {
			t.Errorf("got confidence=%v trainable=%v", got.Confidence, got.Trainable)
		}
		if got.Context["jurisdiction"] != "austin-tx" {
			t.Errorf("context: %v", got.Context)
		}
		if got.HumanInput["permit_id"] != "ATX-1" {
			t.Errorf("human input: %v", got.HumanInput)
		}
		if !got.Delta.HumanProvided || got.Delta.AIConfidence != 0.4 {
			t.Errorf("delta: %+v", got.Delta)
		}

		if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("get missing: got %v, want ErrNotFound", err)
		}
	})
}

func TestStoreRoundTripWithoutHumanInput(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		// An action-only resolution synthesizes a learning with no output.
		l := newLearning("l1", 0.5, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
		l.HumanInput = nil
		if err := store.Create(ctx, l); err != nil {
			t.Fatalf("create: %v", err)
		}

		got, err := store.Get(ctx, "l1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.HumanInput != nil {
			t.Errorf("human input: %v", got.HumanInput)
		}
		if !got.Delta.HumanProvided {
			t.Error("delta should stay human-provided without human input")
		}
	})
}

func TestStoreCreateClampsConfidence(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		over := newLearning("over", 1.7, now)
		under := newLearning("under", -0.3, now)
		for _, l := range []*Learning{over, under} {
			if err := store.Create(ctx, l); err != nil {
				t.Fatalf("create %s: %v", l.ID, err)
			}
		}

		got, err := store.Get(ctx, "over")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Confidence != 1.0 {
			t.Errorf("over: confidence %v, want 1.0", got.Confidence)
		}

		got, err = store.Get(ctx, "under")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Confidence != 0.0 {
			t.Errorf("under: confidence %v, want 0.0", got.Confidence)
		}
	})
}

func TestStoreMatchOrderingAndContext(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		low := newLearning("low", 0.4, base)
		high := newLearning("high", 0.9, base)
		mid := newLearning("mid", 0.6, base.Add(time.Hour))
		otherCtx := newLearning("other-ctx", 0.95, base)
		otherCtx.Context = map[string]string{"jurisdiction": "el-paso-tx"}
		noCtx := newLearning("no-ctx", 0.5, base)
		noCtx.Context = nil
		otherType := newLearning("other-type", 0.99, base)
		otherType.TaskType = "cad_design"

		for _, l := range []*Learning{low, high, mid, otherCtx, noCtx, otherType} {
			if err := store.Create(ctx, l); err != nil {
				t.Fatalf("create %s: %v", l.ID, err)
			}
		}

		taskCtx := map[string]string{"jurisdiction": "austin-tx", "state": "TX"}
		got, err := store.Match(ctx, "permit_submission", taskCtx, 5)
		if err != nil {
			t.Fatalf("match: %v", err)
		}

		// other-ctx fails the context subset check despite its confidence;
		// no-ctx matches everything; other-type is a different task type.
		want := []string{"high", "mid", "no-ctx", "low"}
		if len(got) != len(want) {
			t.Fatalf("matched %d learnings %v, want %d", len(got), idsOf(got), len(want))
		}
		for i, id := range want {
			if got[i].ID != id {
				t.Errorf("position %d: got %s, want %s", i, got[i].ID, id)
			}
		}

		limited, err := store.Match(ctx, "permit_submission", taskCtx, 2)
		if err != nil {
			t.Fatalf("match limited: %v", err)
		}
		if len(limited) != 2 || limited[0].ID != "high" {
			t.Errorf("limit: %v", idsOf(limited))
		}

		none, err := store.Match(ctx, "photo_analysis", nil, 5)
		if err != nil {
			t.Fatalf("match none: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("unexpected matches: %v", idsOf(none))
		}
	})
}

func TestStoreCounters(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.Create(ctx, newLearning("l1", 0.5, time.Now().UTC())); err != nil {
			t.Fatalf("create: %v", err)
		}

		if err := store.RecordUse(ctx, "l1"); err != nil {
			t.Fatalf("record use: %v", err)
		}
		if err := store.RecordSuccess(ctx, "l1"); err != nil {
			t.Fatalf("record success: %v", err)
		}
		if err := store.RecordFailure(ctx, "l1", 0.1); err != nil {
			t.Fatalf("record failure: %v", err)
		}

		got, err := store.Get(ctx, "l1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.UsageCount != 1 || got.SuccessCount != 1 || got.FailureCount != 1 {
			t.Errorf("counters: use=%d success=%d failure=%d", got.UsageCount, got.SuccessCount, got.FailureCount)
		}
		if got.LastUsedAt == nil {
			t.Error("LastUsedAt not stamped")
		}
		if diff := got.Confidence - 0.4; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("confidence after penalty: %v, want 0.4", got.Confidence)
		}

		for _, err := range []error{
			store.RecordUse(ctx, "missing"),
			store.RecordSuccess(ctx, "missing"),
			store.RecordFailure(ctx, "missing", 0.1),
		} {
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("missing id: got %v, want ErrNotFound", err)
			}
		}
	})
}

func TestStoreFailurePenaltyFloor(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.Create(ctx, newLearning("l1", 0.15, time.Now().UTC())); err != nil {
			t.Fatalf("create: %v", err)
		}

		// Two penalties would go negative without the clamp.
		if err := store.RecordFailure(ctx, "l1", 0.1); err != nil {
			t.Fatalf("record failure: %v", err)
		}
		if err := store.RecordFailure(ctx, "l1", 0.1); err != nil {
			t.Fatalf("record failure: %v", err)
		}

		got, err := store.Get(ctx, "l1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Confidence != 0 {
			t.Errorf("confidence floored: got %v, want 0", got.Confidence)
		}
	})
}

func TestStoreCountByType(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		a := newLearning("a", 0.5, now)
		b := newLearning("b", 0.6, now)
		c := newLearning("c", 0.7, now)
		c.TaskType = "cad_design"
		for _, l := range []*Learning{a, b, c} {
			if err := store.Create(ctx, l); err != nil {
				t.Fatalf("create %s: %v", l.ID, err)
			}
		}

		counts, err := store.CountByType(ctx)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if counts["permit_submission"] != 2 || counts["cad_design"] != 1 {
			t.Errorf("counts: %v", counts)
		}
	})
}

func TestMatchesContext(t *testing.T) {
	tests := []struct {
		name     string
		learning map[string]string
		task     map[string]string
		want     bool
	}{
		{"empty matches all", nil, map[string]string{"a": "1"}, true},
		{"subset matches", map[string]string{"a": "1"}, map[string]string{"a": "1", "b": "2"}, true},
		{"exact matches", map[string]string{"a": "1"}, map[string]string{"a": "1"}, true},
		{"value mismatch", map[string]string{"a": "1"}, map[string]string{"a": "2"}, false},
		{"missing key", map[string]string{"a": "1", "c": "3"}, map[string]string{"a": "1"}, false},
		{"nil task context", map[string]string{"a": "1"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &Learning{Context: tt.learning}
			if got := l.MatchesContext(tt.task); got != tt.want {
				t.Errorf("MatchesContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{1.5, 1},
	}
	for _, tt := range tests {
		if got := ClampConfidence(tt.in); got != tt.want {
			t.Errorf("ClampConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func idsOf(ls []*Learning) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.ID
	}
	return out
}
