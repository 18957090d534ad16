package task

import (
	"context"
	"errors"
)

// Store errors.
var (
	// ErrNotFound means no task exists with the given id.
	ErrNotFound = errors.New("task not found")
	// ErrConflict means an update lost an optimistic concurrency race: the
	// stored version no longer matches the version that was read.
	ErrConflict = errors.New("task version conflict")
	// ErrExists means a task with the given id already exists.
	ErrExists = errors.New("task already exists")
)

// MaxQueueLimit caps how many tasks a single listing may return.
const MaxQueueLimit = 200

// Filter narrows task listings. Zero values mean "any".
type Filter struct {
	Status     Status
	Type       string
	ProjectID  string
	AssignedTo string
	Priority   int // 1-5; 0 means any
	Limit      int // capped at MaxQueueLimit; 0 means MaxQueueLimit
}

// Store persists tasks. Listings are always ordered by priority ascending
// then creation time ascending (oldest highest-priority first).
type Store interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, f Filter) ([]*Task, error)
	// Update writes t if the stored version equals t.Version, then bumps
	// t.Version. Returns ErrConflict when the versions diverge.
	Update(ctx context.Context, t *Task) error
}

// EffectiveLimit resolves the listing cap for a filter.
func (f Filter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > MaxQueueLimit {
		return MaxQueueLimit
	}
	return f.Limit
}

// Matches reports whether t passes all equality filters (limit excluded).
func (f Filter) Matches(t *Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.ProjectID != "" && t.ProjectID != f.ProjectID {
		return false
	}
	if f.AssignedTo != "" && (t.HumanFallback == nil || t.HumanFallback.AssignedTo != f.AssignedTo) {
		return false
	}
	if f.Priority != 0 && t.Priority != f.Priority {
		return false
	}
	return true
}
