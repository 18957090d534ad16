package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sunward/taskpilot/internal/learning"
	"github.com/sunward/taskpilot/internal/task"
)

// ProcessResult reports the outcome of one automated attempt. Handler
// failures are absorbed into task state; callers inspect Status and
// Success rather than an error.
type ProcessResult struct {
	TaskID     string
	Status     task.Status
	Confidence float64
	Success    bool
	Error      string
}

// ProcessTask runs one automated attempt on the task: it marks the task
// in-progress, applies any high-confidence learning, invokes the handler,
// classifies the outcome, and reports usage/success/failure back to the
// learning store.
func (e *Engine) ProcessTask(ctx context.Context, taskID string) (ProcessResult, error) {
	t, err := e.getTask(ctx, taskID)
	if err != nil {
		return ProcessResult{}, err
	}
	if !t.Status.Processable() {
		return ProcessResult{}, fmt.Errorf("%w: cannot process task in status %q", ErrFailedPrecondition, t.Status)
	}

	now := e.nowFunc().UTC()
	t.Status = task.StatusAIProcessing
	t.AIAttempt = &task.AIAttempt{StartedAt: &now}
	t.UpdatedAt = now
	if err := e.updateTask(ctx, t); err != nil {
		return ProcessResult{}, err
	}

	handler, ok := e.registry.Resolve(t.Type)
	if !ok {
		// Configuration defect, not a business outcome: the type passed
		// creation validation but lost its handler since.
		return e.finishAttempt(ctx, t, Attempt{},
			fmt.Errorf("no handler registered for task type %q", t.Type), nil)
	}

	learnings, err := e.learnings.Match(ctx, t.Type, t.Context(), matchLimit)
	if err != nil {
		e.logger.WarnCtx("learning lookup failed", map[string]any{
			"task_id": t.ID,
			"error":   err.Error(),
		})
		learnings = nil
	}

	var applied *learning.Learning
	if len(learnings) > 0 && learnings[0].Confidence >= e.cfg.AutoApplyThreshold {
		applied = learnings[0]
		if err := e.learnings.RecordUse(ctx, applied.ID); err != nil {
			e.logger.WarnCtx("record learning use failed", map[string]any{
				"learning_id": applied.ID,
				"error":       err.Error(),
			})
		}
		t.AIAttempt.LearningsApplied = []string{applied.ID}
		e.logger.InfoCtx("learning applied", map[string]any{
			"task_id":     t.ID,
			"learning_id": applied.ID,
			"confidence":  applied.Confidence,
		})
	}

	attempt, handlerErr := handler.Handle(ctx, t.Input, learnings)
	return e.finishAttempt(ctx, t, attempt, handlerErr, applied)
}

// finishAttempt classifies the handler outcome and writes the resulting
// task state. Handler errors never propagate to the caller; they become
// state transitions.
func (e *Engine) finishAttempt(ctx context.Context, t *task.Task, attempt Attempt, handlerErr error, applied *learning.Learning) (ProcessResult, error) {
	now := e.nowFunc().UTC()
	t.AIAttempt.CompletedAt = &now
	t.UpdatedAt = now

	if handlerErr != nil {
		t.AIAttempt.Error = handlerErr.Error()
		t.RetryCount++
		if t.RetryCount >= t.MaxRetries {
			t.Status = task.StatusHumanNeeded
			e.noteFallback(t, fmt.Sprintf("retry limit reached after handler failure: %v", handlerErr), now)
		} else {
			t.Status = task.StatusAIFailed
		}

		if applied != nil {
			if err := e.learnings.RecordFailure(ctx, applied.ID, e.cfg.FailurePenalty); err != nil {
				e.logger.WarnCtx("record learning failure failed", map[string]any{
					"learning_id": applied.ID,
					"error":       err.Error(),
				})
			}
		}

		if err := e.updateTask(ctx, t); err != nil {
			return ProcessResult{}, err
		}

		e.logger.WarnCtx("attempt failed", map[string]any{
			"task_id": t.ID,
			"status":  string(t.Status),
			"retries": t.RetryCount,
			"error":   handlerErr.Error(),
		})
		return ProcessResult{
			TaskID: t.ID,
			Status: t.Status,
			Error:  handlerErr.Error(),
		}, nil
	}

	effective := attempt.Confidence
	if applied != nil && applied.Confidence > effective {
		effective = applied.Confidence
	}

	t.AIAttempt.Confidence = effective
	t.AIAttempt.Result = attempt.Result
	t.AIAttempt.Error = attempt.Error

	success := effective >= e.cfg.SuccessThreshold
	if success {
		t.Status = task.StatusAICompleted
		t.Output = attempt.Result
		if applied != nil {
			if err := e.learnings.RecordSuccess(ctx, applied.ID); err != nil {
				e.logger.WarnCtx("record learning success failed", map[string]any{
					"learning_id": applied.ID,
					"error":       err.Error(),
				})
			}
		}
	} else {
		t.Status = task.StatusHumanNeeded
		t.Output = nil
		e.noteFallback(t, fmt.Sprintf("automation confidence %.2f below threshold %.2f", effective, e.cfg.SuccessThreshold), now)
	}

	if err := e.updateTask(ctx, t); err != nil {
		return ProcessResult{}, err
	}

	e.logger.InfoCtx("attempt finished", map[string]any{
		"task_id":    t.ID,
		"status":     string(t.Status),
		"confidence": effective,
		"success":    success,
	})
	return ProcessResult{
		TaskID:     t.ID,
		Status:     t.Status,
		Confidence: effective,
		Success:    success,
		Error:      attempt.Error,
	}, nil
}

// RetryAITask re-enters processing for a failed or escalated task. The
// fresh learning lookup inside ProcessTask is what distinguishes a retry
// from a blind repeat: learnings created since the last attempt apply.
func (e *Engine) RetryAITask(ctx context.Context, taskID string) (ProcessResult, error) {
	t, err := e.getTask(ctx, taskID)
	if err != nil {
		return ProcessResult{}, err
	}
	if t.Status != task.StatusAIFailed && t.Status != task.StatusHumanNeeded {
		return ProcessResult{}, fmt.Errorf("%w: cannot retry task in status %q", ErrFailedPrecondition, t.Status)
	}
	if t.RetryCount >= t.MaxRetries {
		return ProcessResult{}, fmt.Errorf("%w: retry limit reached (%d/%d)", ErrFailedPrecondition, t.RetryCount, t.MaxRetries)
	}

	t.Status = task.StatusPending
	t.UpdatedAt = e.nowFunc().UTC()
	if err := e.updateTask(ctx, t); err != nil {
		return ProcessResult{}, err
	}

	return e.ProcessTask(ctx, t.ID)
}

// noteFallback records an escalation reason without clobbering existing
// human assignment metadata.
func (e *Engine) noteFallback(t *task.Task, reason string, now time.Time) {
	if t.HumanFallback == nil {
		t.HumanFallback = &task.HumanFallback{}
	}
	t.HumanFallback.Reason = reason
	t.HumanFallback.EscalatedAt = &now
}

// getTask loads a task, translating store errors into the engine taxonomy.
func (e *Engine) getTask(ctx context.Context, id string) (*task.Task, error) {
	t, err := e.tasks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// updateTask writes a task, translating store errors into the engine
// taxonomy.
func (e *Engine) updateTask(ctx context.Context, t *task.Task) error {
	err := e.tasks.Update(ctx, t)
	if err == nil {
		return nil
	}
	if errors.Is(err, task.ErrConflict) {
		return fmt.Errorf("%w: task %s was modified concurrently", ErrConflict, t.ID)
	}
	if errors.Is(err, task.ErrNotFound) {
		return fmt.Errorf("%w: task %s", ErrNotFound, t.ID)
	}
	return fmt.Errorf("update task: %w", err)
}
