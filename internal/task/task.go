// Package task defines the unit of automatable work tracked by taskpilot and
// the store abstraction used to persist it.
package task

import (
	"time"

	"github.com/sunward/taskpilot/internal/learning"
)

// Status represents where a task sits in its lifecycle.
type Status string

const (
	StatusPending         Status = "pending"
	StatusAIProcessing    Status = "ai_processing"
	StatusAICompleted     Status = "ai_completed"
	StatusAIFailed        Status = "ai_failed"
	StatusHumanNeeded     Status = "human_needed"
	StatusHumanProcessing Status = "human_processing"
	StatusLearning        Status = "learning"
	StatusHumanCompleted  Status = "human_completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAIProcessing, StatusAICompleted, StatusAIFailed,
		StatusHumanNeeded, StatusHumanProcessing, StatusLearning, StatusHumanCompleted:
		return true
	}
	return false
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusAICompleted || s == StatusHumanCompleted
}

// Processable reports whether a task in this status may enter ai_processing.
func (s Status) Processable() bool {
	return s == StatusPending || s == StatusAIFailed
}

// HumanCompletable reports whether a human may complete a task in this status.
func (s Status) HumanCompletable() bool {
	return s == StatusHumanNeeded || s == StatusHumanProcessing
}

// AIAttempt records the most recent automated attempt on a task.
type AIAttempt struct {
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Result           map[string]any `json:"result,omitempty"`
	Confidence       float64        `json:"confidence"`
	Error            string         `json:"error,omitempty"`
	LearningsApplied []string       `json:"learnings_applied,omitempty"`
}

// HumanFallback records escalation and human resolution metadata.
type HumanFallback struct {
	Reason      string         `json:"reason,omitempty"`
	EscalatedBy string         `json:"escalated_by,omitempty"`
	EscalatedAt *time.Time     `json:"escalated_at,omitempty"`
	AssignedTo  string         `json:"assigned_to,omitempty"`
	AssignedAt  *time.Time     `json:"assigned_at,omitempty"`
	CompletedBy string         `json:"completed_by,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Action      string         `json:"action,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
}

// LearningData links a human-completed task to the learning synthesized
// from its resolution.
type LearningData struct {
	LearningID  string         `json:"learning_id,omitempty"`
	AIInput     map[string]any `json:"ai_input,omitempty"`
	HumanOutput map[string]any `json:"human_output,omitempty"`
	Delta       learning.Delta `json:"delta"`
	Trainable   bool           `json:"trainable"`
}

// Task is one unit of automatable work.
type Task struct {
	ID            string
	Type          string
	ProjectID     string
	Status        Status
	Priority      int // 1 (highest) to 5
	Input         map[string]any
	Output        map[string]any
	AIAttempt     *AIAttempt
	HumanFallback *HumanFallback
	LearningData  *LearningData
	RetryCount    int
	MaxRetries    int
	// Version supports optimistic concurrency: Store.Update only writes when
	// the stored version matches, so concurrent writers cannot clobber each
	// other's transitions.
	Version   int
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Context returns the matching context carried in the task input
// (jurisdiction, state, zip and similar), or nil when absent.
func (t *Task) Context() map[string]string {
	raw, ok := t.Input["context"].(map[string]any)
	if !ok {
		return nil
	}
	ctx := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			ctx[k] = s
		}
	}
	return ctx
}

// Attempted reports whether an automated attempt ran to completion.
func (t *Task) Attempted() bool {
	return t.AIAttempt != nil && t.AIAttempt.CompletedAt != nil
}
