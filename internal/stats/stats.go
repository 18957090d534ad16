// Package stats computes queue and automation statistics from taskpilot
// task and learning data.
package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sunward/taskpilot/internal/db"
	"github.com/sunward/taskpilot/internal/learning"
	"github.com/sunward/taskpilot/internal/task"
)

// Result holds all computed statistics, JSON-serializable.
type Result struct {
	TotalTasks    int            `json:"total_tasks"`
	ByStatus      map[string]int `json:"by_status,omitempty"`
	ByType        map[string]int `json:"by_type,omitempty"`
	AIAttempted   int            `json:"ai_attempted"`
	AISucceeded   int            `json:"ai_succeeded"`
	AISuccessRate float64        `json:"ai_success_rate"` // percent of attempted
	// AvgResolutionMs averages creation-to-terminal time over completed tasks.
	AvgResolutionMs int64          `json:"avg_resolution_ms"`
	TotalLearnings  int            `json:"total_learnings"`
	LearningsByType map[string]int `json:"learnings_by_type,omitempty"`
}

// Stats computes aggregates over the taskpilot database.
type Stats struct {
	db        *db.DB
	learnings learning.Store
}

// New creates a Stats instance.
func New(database *db.DB, learnings learning.Store) *Stats {
	return &Stats{db: database, learnings: learnings}
}

// Compute aggregates task and learning data into a Result, restricted to
// tasks matching the filter's equality predicates. The filter's limit is
// ignored: aggregates cover the whole matching set.
func (s *Stats) Compute(ctx context.Context, f task.Filter) (*Result, error) {
	result := &Result{
		ByStatus: make(map[string]int),
		ByType:   make(map[string]int),
	}

	if err := s.computeTaskCounts(ctx, f, result); err != nil {
		return nil, err
	}
	if err := s.computeAIOutcomes(ctx, f, result); err != nil {
		return nil, err
	}
	if err := s.computeResolutionTime(ctx, f, result); err != nil {
		return nil, err
	}

	counts, err := s.learnings.CountByType(ctx)
	if err != nil {
		return nil, fmt.Errorf("count learnings: %w", err)
	}
	// Learnings carry no project or status; only the type filter narrows
	// the coverage signal.
	if f.Type != "" {
		narrowed := make(map[string]int)
		if n, ok := counts[f.Type]; ok {
			narrowed[f.Type] = n
		}
		counts = narrowed
	}
	result.LearningsByType = counts
	for _, n := range counts {
		result.TotalLearnings += n
	}

	return result, nil
}

// filterPredicates renders the filter's equality predicates as SQL.
func filterPredicates(f task.Filter) (clauses []string, args []any) {
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, f.Type)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to = ?")
		args = append(args, f.AssignedTo)
	}
	if f.Priority != 0 {
		clauses = append(clauses, "priority = ?")
		args = append(args, f.Priority)
	}
	return clauses, args
}

// computeTaskCounts fills total and per-status/per-type breakdowns.
func (s *Stats) computeTaskCounts(ctx context.Context, f task.Filter, result *Result) error {
	query := `SELECT status, type, COUNT(*) FROM tasks`
	clauses, args := filterPredicates(f)
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " GROUP BY status, type"

	rows, err := s.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, taskType string
		var n int
		if err := rows.Scan(&status, &taskType, &n); err != nil {
			return fmt.Errorf("scan task counts: %w", err)
		}
		result.TotalTasks += n
		result.ByStatus[status] += n
		result.ByType[taskType] += n
	}
	return rows.Err()
}

// computeAIOutcomes fills attempted/succeeded counts and the success rate.
// A task counts as attempted once an automated attempt ran to completion,
// and as succeeded when it finished in ai_completed.
func (s *Stats) computeAIOutcomes(ctx context.Context, f task.Filter, result *Result) error {
	query := `
		SELECT
			COUNT(CASE WHEN ai_completed_at IS NOT NULL THEN 1 END),
			COUNT(CASE WHEN ai_completed_at IS NOT NULL AND status = ? THEN 1 END)
		FROM tasks`
	args := []any{string(task.StatusAICompleted)}
	clauses, filterArgs := filterPredicates(f)
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
		args = append(args, filterArgs...)
	}

	var attempted, succeeded int
	if err := s.db.SQL().QueryRowContext(ctx, query, args...).Scan(&attempted, &succeeded); err != nil {
		return fmt.Errorf("count ai outcomes: %w", err)
	}

	result.AIAttempted = attempted
	result.AISucceeded = succeeded
	if attempted > 0 {
		result.AISuccessRate = float64(succeeded) / float64(attempted) * 100
	}
	return nil
}

// computeResolutionTime averages creation-to-last-update time across
// terminal tasks. Averaged in Go: timestamps round-trip as time.Time
// through the driver regardless of their stored text format.
func (s *Stats) computeResolutionTime(ctx context.Context, f task.Filter, result *Result) error {
	clauses, args := filterPredicates(f)
	clauses = append([]string{"status IN (?, ?)"}, clauses...)
	args = append([]any{
		string(task.StatusAICompleted), string(task.StatusHumanCompleted),
	}, args...)

	rows, err := s.db.SQL().QueryContext(ctx, `
		SELECT created_at, updated_at FROM tasks WHERE `+strings.Join(clauses, " AND "),
		args...)
	if err != nil {
		return fmt.Errorf("query resolution times: %w", err)
	}
	defer rows.Close()

	var total time.Duration
	var n int
	for rows.Next() {
		var created, updated time.Time
		if err := rows.Scan(&created, &updated); err != nil {
			return fmt.Errorf("scan resolution times: %w", err)
		}
		if d := updated.Sub(created); d > 0 {
			total += d
			n++
		}
	}
	if n > 0 {
		result.AvgResolutionMs = total.Milliseconds() / int64(n)
	}
	return rows.Err()
}

// QueueEntry is one row of the pending work view.
type QueueEntry struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	ProjectID string      `json:"project_id"`
	Status    task.Status `json:"status"`
	Priority  int         `json:"priority"`
	Retries   string      `json:"retries"`
	Age       string      `json:"age"`
	CreatedAt time.Time   `json:"created_at"`
}

// Queue returns tasks matching the filter ordered by priority then age,
// shaped for display.
func Queue(ctx context.Context, store task.Store, filter task.Filter) ([]QueueEntry, error) {
	tasks, err := store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}

	now := time.Now().UTC()
	entries := make([]QueueEntry, 0, len(tasks))
	for _, t := range tasks {
		entries = append(entries, QueueEntry{
			ID:        t.ID,
			Type:      t.Type,
			ProjectID: t.ProjectID,
			Status:    t.Status,
			Priority:  t.Priority,
			Retries:   fmt.Sprintf("%d/%d", t.RetryCount, t.MaxRetries),
			Age:       formatAge(now.Sub(t.CreatedAt)),
			CreatedAt: t.CreatedAt,
		})
	}
	return entries, nil
}

// formatAge renders a duration the way humans read queue ages.
func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
}
