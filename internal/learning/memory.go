package learning

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and embedded callers.
type MemoryStore struct {
	mu        sync.RWMutex
	learnings map[string]*Learning
}

// NewMemoryStore creates an empty in-memory learning store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{learnings: make(map[string]*Learning)}
}

// Create inserts a new learning. Confidence is clamped on the way in.
func (s *MemoryStore) Create(_ context.Context, l *Learning) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *l
	c.Confidence = ClampConfidence(c.Confidence)
	s.learnings[c.ID] = &c
	return nil
}

// Get loads a learning by id.
func (s *MemoryStore) Get(_ context.Context, id string) (*Learning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.learnings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c := *l
	return &c, nil
}

// Match returns applicable learnings ordered by confidence descending.
func (s *MemoryStore) Match(_ context.Context, taskType string, taskCtx map[string]string, limit int) ([]*Learning, error) {
	if limit <= 0 {
		limit = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Learning
	for _, l := range s.learnings {
		if l.TaskType != taskType || !l.MatchesContext(taskCtx) {
			continue
		}
		c := *l
		matched = append(matched, &c)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Confidence != matched[j].Confidence {
			return matched[i].Confidence > matched[j].Confidence
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// RecordUse increments the usage counter and stamps last used.
func (s *MemoryStore) RecordUse(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.learnings[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	l.UsageCount++
	now := time.Now().UTC()
	l.LastUsedAt = &now
	return nil
}

// RecordSuccess increments the success counter.
func (s *MemoryStore) RecordSuccess(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.learnings[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	l.SuccessCount++
	return nil
}

// RecordFailure increments the failure counter and deducts the penalty from
// confidence, clamped to [0,1].
func (s *MemoryStore) RecordFailure(_ context.Context, id string, penalty float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.learnings[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	l.FailureCount++
	l.Confidence = ClampConfidence(l.Confidence - penalty)
	return nil
}

// CountByType returns the number of learnings per task type.
func (s *MemoryStore) CountByType(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, l := range s.learnings {
		counts[l.TaskType]++
	}
	return counts, nil
}
