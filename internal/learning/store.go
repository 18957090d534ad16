package learning

import (
	"context"
	"errors"
)

// ErrNotFound means no learning exists with the given id.
var ErrNotFound = errors.New("learning not found")

// Store persists learnings. Counter and confidence mutations are atomic at
// the store layer so concurrent processors of the same task type cannot
// lose updates.
type Store interface {
	Create(ctx context.Context, l *Learning) error
	Get(ctx context.Context, id string) (*Learning, error)
	// Match returns learnings for the task type whose context applies to
	// taskCtx, ordered by confidence descending, at most limit entries.
	Match(ctx context.Context, taskType string, taskCtx map[string]string, limit int) ([]*Learning, error)
	// RecordUse increments the usage counter and refreshes last_used_at.
	RecordUse(ctx context.Context, id string) error
	// RecordSuccess increments the success counter.
	RecordSuccess(ctx context.Context, id string) error
	// RecordFailure increments the failure counter and deducts penalty from
	// the confidence, clamped to [0,1].
	RecordFailure(ctx context.Context, id string, penalty float64) error
	// CountByType returns the number of learnings per task type.
	CountByType(ctx context.Context) (map[string]int, error)
}
