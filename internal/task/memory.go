package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and embedded callers.
// It enforces the same optimistic versioning as the sqlite store.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryStore creates an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Create inserts a new task.
func (s *MemoryStore) Create(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, t.ID)
	}
	s.tasks[t.ID] = t.clone()
	return nil
}

// Get loads a task by id.
func (s *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.clone(), nil
}

// List returns matching tasks ordered by priority then creation time.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Task
	for _, t := range s.tasks {
		if f.Matches(t) {
			matched = append(matched, t.clone())
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if limit := f.EffectiveLimit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Update writes the task if versions match, bumping the version on success.
func (s *MemoryStore) Update(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[t.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, t.ID)
	}
	if stored.Version != t.Version {
		return fmt.Errorf("%w: %s", ErrConflict, t.ID)
	}

	t.Version++
	s.tasks[t.ID] = t.clone()
	return nil
}

// clone deep-copies the mutable pointer fields so callers cannot alias
// stored state.
func (t *Task) clone() *Task {
	c := *t
	if t.Input != nil {
		c.Input = cloneMap(t.Input)
	}
	if t.Output != nil {
		c.Output = cloneMap(t.Output)
	}
	if t.AIAttempt != nil {
		a := *t.AIAttempt
		a.Result = cloneMap(t.AIAttempt.Result)
		a.LearningsApplied = append([]string(nil), t.AIAttempt.LearningsApplied...)
		c.AIAttempt = &a
	}
	if t.HumanFallback != nil {
		h := *t.HumanFallback
		h.Output = cloneMap(t.HumanFallback.Output)
		c.HumanFallback = &h
	}
	if t.LearningData != nil {
		ld := *t.LearningData
		ld.AIInput = cloneMap(t.LearningData.AIInput)
		ld.HumanOutput = cloneMap(t.LearningData.HumanOutput)
		c.LearningData = &ld
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			c[k] = cloneMap(nested)
			continue
		}
		c[k] = v
	}
	return c
}
