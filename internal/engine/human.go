package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sunward/taskpilot/internal/learning"
	"github.com/sunward/taskpilot/internal/task"
)

// EscalateRequest hands a task over to the human lane.
type EscalateRequest struct {
	TaskID   string
	Reason   string // optional; empty leaves any earlier reason in place
	Actor    string
	Assignee string // optional; when set the task lands in human_processing
}

// EscalateResult reports the escalated task state.
type EscalateResult struct {
	TaskID string
	Status task.Status
}

// EscalateToHuman moves a task into the human lane. Any existing task may
// be escalated, including one automation already finished; the escalation
// record keeps the reason and who asked for it.
func (e *Engine) EscalateToHuman(ctx context.Context, req EscalateRequest) (EscalateResult, error) {
	if req.Actor == "" {
		return EscalateResult{}, fmt.Errorf("%w: actor required", ErrInvalidArgument)
	}

	t, err := e.getTask(ctx, req.TaskID)
	if err != nil {
		return EscalateResult{}, err
	}

	now := e.nowFunc().UTC()
	if t.HumanFallback == nil {
		t.HumanFallback = &task.HumanFallback{}
	}
	if req.Reason != "" {
		t.HumanFallback.Reason = req.Reason
	}
	t.HumanFallback.EscalatedBy = req.Actor
	t.HumanFallback.EscalatedAt = &now

	if req.Assignee != "" {
		t.HumanFallback.AssignedTo = req.Assignee
		t.HumanFallback.AssignedAt = &now
		t.Status = task.StatusHumanProcessing
	} else {
		t.Status = task.StatusHumanNeeded
	}
	t.UpdatedAt = now

	if err := e.updateTask(ctx, t); err != nil {
		return EscalateResult{}, err
	}

	e.logger.InfoCtx("task escalated", map[string]any{
		"task_id":  t.ID,
		"status":   string(t.Status),
		"reason":   req.Reason,
		"assignee": req.Assignee,
	})
	return EscalateResult{TaskID: t.ID, Status: t.Status}, nil
}

// CompleteRequest records a human's resolution of an escalated task.
type CompleteRequest struct {
	TaskID string
	Actor  string
	Action string         // what the human did, e.g. "corrected_address"
	Output map[string]any // optional; some resolutions are the action alone
	Notes  string
}

// CompleteResult reports the completed task and the learning synthesized
// from the resolution, when one was persisted.
type CompleteResult struct {
	TaskID     string
	Status     task.Status
	LearningID string
}

// CompleteHumanTask finishes a task in the human lane and synthesizes a
// learning from the resolution so future automated attempts on similar
// tasks improve. Learning persistence is best effort: a store failure is
// logged and the completion still succeeds.
func (e *Engine) CompleteHumanTask(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	if req.Actor == "" {
		return CompleteResult{}, fmt.Errorf("%w: actor required", ErrInvalidArgument)
	}
	if req.Action == "" {
		return CompleteResult{}, fmt.Errorf("%w: action required", ErrInvalidArgument)
	}

	t, err := e.getTask(ctx, req.TaskID)
	if err != nil {
		return CompleteResult{}, err
	}
	if !t.Status.HumanCompletable() {
		return CompleteResult{}, fmt.Errorf("%w: cannot complete task in status %q", ErrFailedPrecondition, t.Status)
	}

	// Visible intermediate state while the learning is extracted. The
	// optimistic version check on this write is also what makes completion
	// race-safe: two humans completing the same task cannot both win.
	now := e.nowFunc().UTC()
	t.Status = task.StatusLearning
	t.UpdatedAt = now
	if err := e.updateTask(ctx, t); err != nil {
		return CompleteResult{}, err
	}

	l := e.synthesizeLearning(t, req, now)
	learningID := l.ID
	if err := e.learnings.Create(ctx, l); err != nil {
		e.logger.WarnCtx("learning synthesis failed", map[string]any{
			"task_id": t.ID,
			"error":   err.Error(),
		})
		learningID = ""
	} else {
		e.logger.InfoCtx("learning synthesized", map[string]any{
			"task_id":     t.ID,
			"learning_id": l.ID,
			"pattern":     l.Pattern,
		})
	}

	now = e.nowFunc().UTC()
	if t.HumanFallback == nil {
		t.HumanFallback = &task.HumanFallback{}
	}
	t.HumanFallback.CompletedBy = req.Actor
	t.HumanFallback.CompletedAt = &now
	t.HumanFallback.Action = req.Action
	t.HumanFallback.Notes = req.Notes
	t.HumanFallback.Output = req.Output

	t.LearningData = &task.LearningData{
		LearningID:  learningID,
		AIInput:     t.Input,
		HumanOutput: req.Output,
		Delta:       l.Delta,
		Trainable:   true,
	}
	t.Status = task.StatusHumanCompleted
	t.Output = req.Output
	t.UpdatedAt = now

	if err := e.updateTask(ctx, t); err != nil {
		return CompleteResult{}, err
	}

	e.logger.InfoCtx("task completed by human", map[string]any{
		"task_id":     t.ID,
		"actor":       req.Actor,
		"action":      req.Action,
		"learning_id": learningID,
	})
	return CompleteResult{TaskID: t.ID, Status: t.Status, LearningID: learningID}, nil
}

// synthesizeLearning builds the learning record for a human resolution.
// New learnings always start at StartingConfidence; they earn automatic
// application through use, never at birth.
func (e *Engine) synthesizeLearning(t *task.Task, req CompleteRequest, now time.Time) *learning.Learning {
	var aiConfidence float64
	var aiOutput map[string]any
	if t.AIAttempt != nil {
		aiConfidence = t.AIAttempt.Confidence
		aiOutput = t.AIAttempt.Result
	}

	return &learning.Learning{
		ID:                e.newID(),
		TaskType:          t.Type,
		TaskID:            t.ID,
		Context:           t.Context(),
		Pattern:           fmt.Sprintf("%s: human %s", t.Type, req.Action),
		HumanAction:       req.Action,
		HumanInput:        req.Output,
		AIAttemptedOutput: aiOutput,
		Delta: learning.Delta{
			AIConfidence:  aiConfidence,
			HumanProvided: true,
		},
		Confidence: learning.StartingConfidence,
		Trainable:  true,
		CreatedBy:  req.Actor,
		CreatedAt:  now,
	}
}
