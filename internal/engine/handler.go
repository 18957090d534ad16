package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/sunward/taskpilot/internal/learning"
)

// Attempt is what a handler reports back for one automated try. Confidence 0
// with an Error string is an ordinary business outcome ("could not handle
// it"); a handler returns a Go error only for infrastructure failures.
type Attempt struct {
	Confidence float64
	Result     map[string]any
	Error      string
}

// AutomationHandler attempts one unit of work of a single task type.
// Implementations must be side-effect-isolated per attempt and must not
// assume they are the only concurrent caller for a given task type.
type AutomationHandler interface {
	Handle(ctx context.Context, input map[string]any, learnings []*learning.Learning) (Attempt, error)
}

// HandlerFunc adapts a plain function to AutomationHandler.
type HandlerFunc func(ctx context.Context, input map[string]any, learnings []*learning.Learning) (Attempt, error)

// Handle implements AutomationHandler.
func (f HandlerFunc) Handle(ctx context.Context, input map[string]any, learnings []*learning.Learning) (Attempt, error) {
	return f(ctx, input, learnings)
}

// Registry is a fixed mapping from task type to handler, populated at
// startup. Registration problems are configuration errors surfaced
// immediately, not runtime map misses.
type Registry struct {
	handlers map[string]AutomationHandler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]AutomationHandler)}
}

// Register binds a handler to a task type. Empty types, nil handlers, and
// duplicate registrations are rejected.
func (r *Registry) Register(taskType string, h AutomationHandler) error {
	if taskType == "" {
		return fmt.Errorf("register handler: empty task type")
	}
	if h == nil {
		return fmt.Errorf("register handler %q: nil handler", taskType)
	}
	if _, exists := r.handlers[taskType]; exists {
		return fmt.Errorf("register handler %q: already registered", taskType)
	}
	r.handlers[taskType] = h
	return nil
}

// Resolve returns the handler for a task type.
func (r *Registry) Resolve(taskType string) (AutomationHandler, bool) {
	h, ok := r.handlers[taskType]
	return h, ok
}

// Registered reports whether a task type has a handler.
func (r *Registry) Registered(taskType string) bool {
	_, ok := r.handlers[taskType]
	return ok
}

// Types returns the registered task types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
