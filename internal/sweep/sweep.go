// Package sweep recovers tasks stuck in ai_processing. A crash between the
// in-progress write and the final attempt write leaves a task that no worker
// will ever finish; the sweeper notices them by age and routes them back
// through the retry and escalation rules.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sunward/taskpilot/internal/logging"
	"github.com/sunward/taskpilot/internal/task"
)

// DefaultProcessingTTL is how long a task may sit in ai_processing before
// the sweeper treats it as abandoned.
const DefaultProcessingTTL = 15 * time.Minute

// Sweeper scans for abandoned in-progress tasks and fails them out.
type Sweeper struct {
	tasks   task.Store
	ttl     time.Duration
	logger  *logging.Logger
	nowFunc func() time.Time
}

// New creates a sweeper over the given store. A non-positive ttl falls back
// to DefaultProcessingTTL.
func New(tasks task.Store, ttl time.Duration) *Sweeper {
	if ttl <= 0 {
		ttl = DefaultProcessingTTL
	}
	return &Sweeper{
		tasks:   tasks,
		ttl:     ttl,
		logger:  logging.Component("sweep"),
		nowFunc: time.Now,
	}
}

// Result summarizes one sweep pass.
type Result struct {
	Scanned   int
	Recovered int
	Escalated int
}

// Run performs one sweep pass. Tasks past the TTL consume a retry; those at
// the ceiling escalate to the human lane, the rest return to ai_failed so a
// retry can pick them up. Version conflicts mean a live worker finished the
// task after we read it, so they are skipped, not errors.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	stuck, err := s.tasks.List(ctx, task.Filter{Status: task.StatusAIProcessing})
	if err != nil {
		return Result{}, fmt.Errorf("list in-progress tasks: %w", err)
	}

	var res Result
	cutoff := s.nowFunc().UTC().Add(-s.ttl)
	for _, t := range stuck {
		res.Scanned++
		if t.UpdatedAt.After(cutoff) {
			continue
		}
		if err := s.recover(ctx, t); err != nil {
			if errors.Is(err, task.ErrConflict) {
				continue
			}
			return res, err
		}
		if t.Status == task.StatusHumanNeeded {
			res.Escalated++
		} else {
			res.Recovered++
		}
	}

	if res.Recovered > 0 || res.Escalated > 0 {
		s.logger.InfoCtx("sweep finished", map[string]any{
			"scanned":   res.Scanned,
			"recovered": res.Recovered,
			"escalated": res.Escalated,
		})
	}
	return res, nil
}

// recover fails one abandoned task out of ai_processing.
func (s *Sweeper) recover(ctx context.Context, t *task.Task) error {
	now := s.nowFunc().UTC()
	if t.AIAttempt == nil {
		t.AIAttempt = &task.AIAttempt{}
	}
	t.AIAttempt.CompletedAt = &now
	t.AIAttempt.Error = "processing timed out"

	t.RetryCount++
	if t.RetryCount >= t.MaxRetries {
		t.Status = task.StatusHumanNeeded
		if t.HumanFallback == nil {
			t.HumanFallback = &task.HumanFallback{}
		}
		t.HumanFallback.Reason = fmt.Sprintf("retry limit reached after processing timed out (stuck > %s)", s.ttl)
		t.HumanFallback.EscalatedAt = &now
	} else {
		t.Status = task.StatusAIFailed
	}
	t.UpdatedAt = now

	if err := s.tasks.Update(ctx, t); err != nil {
		return err
	}

	s.logger.WarnCtx("stuck task recovered", map[string]any{
		"task_id": t.ID,
		"status":  string(t.Status),
		"retries": t.RetryCount,
	})
	return nil
}
