package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sunward/taskpilot/internal/db"
)

// SQLiteStore persists tasks in the taskpilot sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a task store backed by the given database.
func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database.SQL()}
}

const taskColumns = `id, type, project_id, status, priority, input, output,
	ai_started_at, ai_completed_at, ai_confidence, ai_error, ai_result, ai_learnings,
	human_reason, escalated_by, escalated_at, assigned_to, assigned_at,
	completed_by, human_completed_at, human_action, human_notes, human_output,
	learning_data, retry_count, max_retries, version, created_by, created_at, updated_at`

// Create inserts a new task row.
func (s *SQLiteStore) Create(ctx context.Context, t *Task) error {
	input, err := marshalJSON(t.Input)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, type, project_id, status, priority, input,
			retry_count, max_retries, version, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Type, t.ProjectID, string(t.Status), t.Priority, input.String,
		t.RetryCount, t.MaxRetries, t.Version, t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: %s", ErrExists, t.ID)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get loads a task by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

// List returns tasks matching the filter, ordered by priority ascending then
// creation time ascending, capped at the filter's effective limit.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]*Task, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.AssignedTo != "" {
		where = append(where, "assigned_to = ?")
		args = append(args, f.AssignedTo)
	}
	if f.Priority != 0 {
		where = append(where, "priority = ?")
		args = append(args, f.Priority)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY priority ASC, created_at ASC LIMIT ?"
	args = append(args, f.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Update writes the task if the stored version matches t.Version, bumping
// the version on success. Returns ErrConflict on a lost race.
func (s *SQLiteStore) Update(ctx context.Context, t *Task) error {
	input, err := marshalJSON(t.Input)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	output, err := marshalJSON(t.Output)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	learningData, err := marshalAnyJSON(t.LearningData)
	if err != nil {
		return fmt.Errorf("encode learning data: %w", err)
	}

	var (
		aiStarted, aiCompleted     sql.NullTime
		aiConfidence               sql.NullFloat64
		aiError, aiResult, aiIDs   sql.NullString
		humanReason, escalatedBy   sql.NullString
		escalatedAt, assignedAt    sql.NullTime
		assignedTo, completedBy    sql.NullString
		humanCompletedAt           sql.NullTime
		action, notes, humanOutput sql.NullString
	)
	if a := t.AIAttempt; a != nil {
		aiStarted = nullTime(a.StartedAt)
		aiCompleted = nullTime(a.CompletedAt)
		aiConfidence = sql.NullFloat64{Float64: a.Confidence, Valid: true}
		aiError = nullString(a.Error)
		if aiResult, err = marshalJSON(a.Result); err != nil {
			return fmt.Errorf("encode ai result: %w", err)
		}
		if aiIDs, err = marshalAnyJSON(a.LearningsApplied); err != nil {
			return fmt.Errorf("encode applied learnings: %w", err)
		}
	}
	if h := t.HumanFallback; h != nil {
		humanReason = nullString(h.Reason)
		escalatedBy = nullString(h.EscalatedBy)
		escalatedAt = nullTime(h.EscalatedAt)
		assignedTo = nullString(h.AssignedTo)
		assignedAt = nullTime(h.AssignedAt)
		completedBy = nullString(h.CompletedBy)
		humanCompletedAt = nullTime(h.CompletedAt)
		action = nullString(h.Action)
		notes = nullString(h.Notes)
		if humanOutput, err = marshalJSON(h.Output); err != nil {
			return fmt.Errorf("encode human output: %w", err)
		}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			status = ?, priority = ?, input = ?, output = ?,
			ai_started_at = ?, ai_completed_at = ?, ai_confidence = ?,
			ai_error = ?, ai_result = ?, ai_learnings = ?,
			human_reason = ?, escalated_by = ?, escalated_at = ?,
			assigned_to = ?, assigned_at = ?, completed_by = ?,
			human_completed_at = ?, human_action = ?, human_notes = ?, human_output = ?,
			learning_data = ?, retry_count = ?, max_retries = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(t.Status), t.Priority, input.String, output,
		aiStarted, aiCompleted, aiConfidence,
		aiError, aiResult, aiIDs,
		humanReason, escalatedBy, escalatedAt,
		assignedTo, assignedAt, completedBy,
		humanCompletedAt, action, notes, humanOutput,
		learningData, t.RetryCount, t.MaxRetries,
		t.UpdatedAt,
		t.ID, t.Version)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if affected == 0 {
		var exists int
		row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ?`, t.ID)
		if err := row.Scan(&exists); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, t.ID)
		}
		return fmt.Errorf("%w: %s", ErrConflict, t.ID)
	}

	t.Version++
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t                          Task
		status                     string
		input                      string
		output, aiResult, aiIDs    sql.NullString
		aiError                    sql.NullString
		aiStarted, aiCompleted     sql.NullTime
		aiConfidence               sql.NullFloat64
		humanReason, escalatedBy   sql.NullString
		escalatedAt, assignedAt    sql.NullTime
		assignedTo, completedBy    sql.NullString
		humanCompletedAt           sql.NullTime
		action, notes, humanOutput sql.NullString
		learningData               sql.NullString
	)

	err := row.Scan(&t.ID, &t.Type, &t.ProjectID, &status, &t.Priority, &input, &output,
		&aiStarted, &aiCompleted, &aiConfidence, &aiError, &aiResult, &aiIDs,
		&humanReason, &escalatedBy, &escalatedAt, &assignedTo, &assignedAt,
		&completedBy, &humanCompletedAt, &action, &notes, &humanOutput,
		&learningData, &t.RetryCount, &t.MaxRetries, &t.Version, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	if t.Input, err = unmarshalMap(input); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if output.Valid {
		if t.Output, err = unmarshalMap(output.String); err != nil {
			return nil, fmt.Errorf("decode output: %w", err)
		}
	}

	if aiStarted.Valid || aiCompleted.Valid || aiConfidence.Valid {
		attempt := &AIAttempt{
			StartedAt:   timePtr(aiStarted),
			CompletedAt: timePtr(aiCompleted),
			Confidence:  aiConfidence.Float64,
			Error:       aiError.String,
		}
		if aiResult.Valid {
			if attempt.Result, err = unmarshalMap(aiResult.String); err != nil {
				return nil, fmt.Errorf("decode ai result: %w", err)
			}
		}
		if aiIDs.Valid {
			if err := json.Unmarshal([]byte(aiIDs.String), &attempt.LearningsApplied); err != nil {
				return nil, fmt.Errorf("decode applied learnings: %w", err)
			}
		}
		t.AIAttempt = attempt
	}

	if humanReason.Valid || escalatedBy.Valid || assignedTo.Valid || completedBy.Valid || action.Valid {
		fallback := &HumanFallback{
			Reason:      humanReason.String,
			EscalatedBy: escalatedBy.String,
			EscalatedAt: timePtr(escalatedAt),
			AssignedTo:  assignedTo.String,
			AssignedAt:  timePtr(assignedAt),
			CompletedBy: completedBy.String,
			CompletedAt: timePtr(humanCompletedAt),
			Action:      action.String,
			Notes:       notes.String,
		}
		if humanOutput.Valid {
			if fallback.Output, err = unmarshalMap(humanOutput.String); err != nil {
				return nil, fmt.Errorf("decode human output: %w", err)
			}
		}
		t.HumanFallback = fallback
	}

	if learningData.Valid {
		var ld LearningData
		if err := json.Unmarshal([]byte(learningData.String), &ld); err != nil {
			return nil, fmt.Errorf("decode learning data: %w", err)
		}
		t.LearningData = &ld
	}

	return &t, nil
}

func marshalJSON(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func marshalAnyJSON(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case *LearningData:
		if val == nil {
			return sql.NullString{}, nil
		}
	case []string:
		if val == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalMap(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	ts := t.Time
	return &ts
}
