// Package engine implements the AI task engine: an automated handler
// attempts each unit of work, escalates to a human when confidence is
// insufficient, and converts the human's resolution into a reusable
// learning that raises future automated success rates.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sunward/taskpilot/internal/learning"
	"github.com/sunward/taskpilot/internal/logging"
	"github.com/sunward/taskpilot/internal/task"
)

// Default thresholds and retry settings.
const (
	DefaultSuccessThreshold   = 0.7
	DefaultAutoApplyThreshold = 0.8
	DefaultFailurePenalty     = 0.1
	DefaultMaxRetries         = 3
	DefaultPriority           = 3
)

// matchLimit bounds how many learnings are fetched per attempt.
const matchLimit = 5

// Config holds engine thresholds and defaults.
type Config struct {
	// SuccessThreshold is the minimum effective confidence for an attempt
	// to count as automated success.
	SuccessThreshold float64
	// AutoApplyThreshold is the minimum learning confidence for the engine
	// to pre-apply it to an attempt.
	AutoApplyThreshold float64
	// FailurePenalty is deducted from a learning's confidence when an
	// attempt it backed fails.
	FailurePenalty float64
	// MaxRetries is the per-task default retry ceiling.
	MaxRetries int
	// Priority is the default priority for new tasks.
	Priority int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		SuccessThreshold:   DefaultSuccessThreshold,
		AutoApplyThreshold: DefaultAutoApplyThreshold,
		FailurePenalty:     DefaultFailurePenalty,
		MaxRetries:         DefaultMaxRetries,
		Priority:           DefaultPriority,
	}
}

// Engine owns the task store, learning store, and handler registry, and
// exposes the five task operations as methods so they share one view of
// thresholds and retry defaults.
type Engine struct {
	tasks     task.Store
	learnings learning.Store
	registry  *Registry
	cfg       Config
	logger    *logging.Logger
	nowFunc   func() time.Time
	newID     func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets engine thresholds and defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.nowFunc = now }
}

// WithIDGenerator sets the id source (tests).
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// New creates an engine over the given stores and registry.
func New(tasks task.Store, learnings learning.Store, registry *Registry, opts ...Option) *Engine {
	e := &Engine{
		tasks:     tasks,
		learnings: learnings,
		registry:  registry,
		cfg:       DefaultConfig(),
		logger:    logging.Component("engine"),
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetTask loads a task by id.
func (e *Engine) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	return e.getTask(ctx, taskID)
}

// CreateRequest describes a new task.
type CreateRequest struct {
	Type      string
	ProjectID string
	Input     map[string]any
	Priority  int  // 1-5; values outside the range fall back to the default
	MaxRetries int // 0 means the engine default; floor 1
	// AutoProcess controls whether the engine immediately attempts the task.
	// Nil means true.
	AutoProcess *bool
	Actor       string
}

// CreateResult reports the created task and its status after any
// auto-process attempt.
type CreateResult struct {
	TaskID string
	Status task.Status
}

// CreateTask validates and persists a new task, then attempts it once
// unless auto-processing is disabled. A failed auto-process attempt never
// fails creation; the task persists in whatever state processing left it.
func (e *Engine) CreateTask(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if req.Actor == "" {
		return CreateResult{}, fmt.Errorf("%w: actor required", ErrInvalidArgument)
	}
	if req.Type == "" {
		return CreateResult{}, fmt.Errorf("%w: task type required", ErrInvalidArgument)
	}
	if !e.registry.Registered(req.Type) {
		return CreateResult{}, fmt.Errorf("%w: no handler registered for task type %q", ErrInvalidArgument, req.Type)
	}
	if req.ProjectID == "" {
		return CreateResult{}, fmt.Errorf("%w: project id required", ErrInvalidArgument)
	}
	if len(req.Input) == 0 {
		return CreateResult{}, fmt.Errorf("%w: input required", ErrInvalidArgument)
	}

	priority := req.Priority
	if priority < 1 || priority > 5 {
		priority = e.cfg.Priority
	}
	maxRetries := req.MaxRetries
	if maxRetries < 1 {
		maxRetries = e.cfg.MaxRetries
	}

	now := e.nowFunc().UTC()
	t := &task.Task{
		ID:         e.newID(),
		Type:       req.Type,
		ProjectID:  req.ProjectID,
		Status:     task.StatusPending,
		Priority:   priority,
		Input:      req.Input,
		MaxRetries: maxRetries,
		Version:    1,
		CreatedBy:  req.Actor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := e.tasks.Create(ctx, t); err != nil {
		return CreateResult{}, fmt.Errorf("create task: %w", err)
	}

	e.logger.InfoCtx("task created", map[string]any{
		"task_id":  t.ID,
		"type":     t.Type,
		"project":  t.ProjectID,
		"priority": t.Priority,
	})

	status := t.Status
	if req.AutoProcess == nil || *req.AutoProcess {
		result, err := e.ProcessTask(ctx, t.ID)
		if err != nil {
			// Creation already succeeded; the processing outcome is
			// reported through task state, not this call.
			e.logger.WarnCtx("auto-process failed", map[string]any{
				"task_id": t.ID,
				"error":   err.Error(),
			})
			if current, gerr := e.tasks.Get(ctx, t.ID); gerr == nil {
				status = current.Status
			}
		} else {
			status = result.Status
		}
	}

	return CreateResult{TaskID: t.ID, Status: status}, nil
}
