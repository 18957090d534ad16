package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sunward/taskpilot/internal/db"
)

// SQLiteStore persists learnings in the taskpilot sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a learning store backed by the given database.
func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database.SQL()}
}

// matchFetchMultiplier widens the SQL fetch so Go-side context filtering
// still has limit rows to choose from.
const matchFetchMultiplier = 4

// Create inserts a new learning row. Confidence is clamped on the way in.
func (s *SQLiteStore) Create(ctx context.Context, l *Learning) error {
	contextJSON, err := encodeJSON(l.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	humanInput, err := encodeJSON(l.HumanInput)
	if err != nil {
		return fmt.Errorf("encode human input: %w", err)
	}
	aiOutput, err := encodeJSON(l.AIAttemptedOutput)
	if err != nil {
		return fmt.Errorf("encode ai output: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO learnings (id, task_type, task_id, context, pattern,
			human_action, human_input, ai_attempted_output, delta_ai_confidence,
			confidence, usage_count, success_count, failure_count, trainable,
			created_by, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.TaskType, l.TaskID, contextJSON, l.Pattern,
		l.HumanAction, humanInput, aiOutput, l.Delta.AIConfidence,
		ClampConfidence(l.Confidence), l.UsageCount, l.SuccessCount, l.FailureCount, l.Trainable,
		l.CreatedBy, l.CreatedAt, nullTime(l.LastUsedAt))
	if err != nil {
		return fmt.Errorf("insert learning: %w", err)
	}
	return nil
}

const learningColumns = `id, task_type, task_id, context, pattern,
	human_action, human_input, ai_attempted_output, delta_ai_confidence,
	confidence, usage_count, success_count, failure_count, trainable,
	created_by, created_at, last_used_at`

// Get loads a learning by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Learning, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+learningColumns+` FROM learnings WHERE id = ?`, id)
	l, err := scanLearning(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query learning: %w", err)
	}
	return l, nil
}

// Match returns learnings for the task type applicable to taskCtx, ordered
// by confidence descending. Context filtering happens Go-side over a wider
// SQL fetch.
func (s *SQLiteStore) Match(ctx context.Context, taskType string, taskCtx map[string]string, limit int) ([]*Learning, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+learningColumns+` FROM learnings
		WHERE task_type = ?
		ORDER BY confidence DESC, created_at DESC
		LIMIT ?`, taskType, limit*matchFetchMultiplier)
	if err != nil {
		return nil, fmt.Errorf("match learnings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matched []*Learning
	for rows.Next() {
		l, err := scanLearning(rows)
		if err != nil {
			return nil, fmt.Errorf("scan learning: %w", err)
		}
		if !l.MatchesContext(taskCtx) {
			continue
		}
		matched = append(matched, l)
		if len(matched) == limit {
			break
		}
	}
	return matched, rows.Err()
}

// RecordUse atomically increments usage_count and stamps last_used_at.
func (s *SQLiteStore) RecordUse(ctx context.Context, id string) error {
	return s.exec(ctx, id, `
		UPDATE learnings SET usage_count = usage_count + 1, last_used_at = ?
		WHERE id = ?`, time.Now().UTC(), id)
}

// RecordSuccess atomically increments success_count.
func (s *SQLiteStore) RecordSuccess(ctx context.Context, id string) error {
	return s.exec(ctx, id, `
		UPDATE learnings SET success_count = success_count + 1
		WHERE id = ?`, id)
}

// RecordFailure atomically increments failure_count and deducts the penalty
// from confidence, clamped at the floor in SQL.
func (s *SQLiteStore) RecordFailure(ctx context.Context, id string, penalty float64) error {
	return s.exec(ctx, id, `
		UPDATE learnings SET
			failure_count = failure_count + 1,
			confidence = MAX(0.0, MIN(1.0, confidence - ?))
		WHERE id = ?`, penalty, id)
}

// CountByType returns the number of learnings per task type.
func (s *SQLiteStore) CountByType(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_type, COUNT(*) FROM learnings GROUP BY task_type`)
	if err != nil {
		return nil, fmt.Errorf("count learnings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var taskType string
		var n int
		if err := rows.Scan(&taskType, &n); err != nil {
			return nil, fmt.Errorf("scan learning count: %w", err)
		}
		counts[taskType] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) exec(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update learning: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update learning: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLearning(row rowScanner) (*Learning, error) {
	var (
		l                              Learning
		contextJSON, humanInput, aiOut sql.NullString
		lastUsed                       sql.NullTime
	)

	err := row.Scan(&l.ID, &l.TaskType, &l.TaskID, &contextJSON, &l.Pattern,
		&l.HumanAction, &humanInput, &aiOut, &l.Delta.AIConfidence,
		&l.Confidence, &l.UsageCount, &l.SuccessCount, &l.FailureCount, &l.Trainable,
		&l.CreatedBy, &l.CreatedAt, &lastUsed)
	if err != nil {
		return nil, err
	}

	if contextJSON.Valid {
		if err := json.Unmarshal([]byte(contextJSON.String), &l.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	if humanInput.Valid {
		if err := json.Unmarshal([]byte(humanInput.String), &l.HumanInput); err != nil {
			return nil, fmt.Errorf("decode human input: %w", err)
		}
	}
	if aiOut.Valid {
		if err := json.Unmarshal([]byte(aiOut.String), &l.AIAttemptedOutput); err != nil {
			return nil, fmt.Errorf("decode ai output: %w", err)
		}
	}
	if lastUsed.Valid {
		ts := lastUsed.Time
		l.LastUsedAt = &ts
	}
	// A recorded human action marks the delta as human-provided; the human's
	// output is optional and may be absent.
	l.Delta.HumanProvided = l.HumanAction != ""

	return &l, nil
}

func encodeJSON(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case map[string]string:
		if val == nil {
			return sql.NullString{}, nil
		}
	case map[string]any:
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

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
