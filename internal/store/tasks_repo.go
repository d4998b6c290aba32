package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskproof/internal/core"
)

// ErrTaskNotFound aliases the core sentinel so callers may match either.
var ErrTaskNotFound = core.ErrTaskNotFound

const taskColumns = `id, name, start_time, duration_minutes, alert_gap_minutes, instructions, status, created_at, completed_at`

// InsertTask persists a new task, assigning its id and creation time when unset.
func (s *Store) InsertTask(ctx context.Context, task *core.Task) error {
	if task.ID == "" {
		task.ID = core.NewID()
	}
	if task.Status == "" {
		task.Status = core.TaskStatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Name, task.StartTime, task.DurationMinutes, task.AlertGapMinutes, task.Instructions,
		task.Status, task.CreatedAt.UTC().Format(timeLayout), nullableTime(task.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// DeleteTask removes a task together with its verification attempts.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete task: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("delete attempts: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// ListTasks returns tasks ordered by start time, optionally filtered by status.
func (s *Store) ListTasks(ctx context.Context, status *core.TaskStatus) ([]*core.Task, error) {
	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			WHERE status = ?
			ORDER BY start_time ASC, created_at ASC
		`, *status)
	} else {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			ORDER BY start_time ASC, created_at ASC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTaskStatus moves a task to status. The update only applies when the
// current status is a legal predecessor, so completed tasks never regress.
// completedAt is written when non-nil.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status core.TaskStatus, completedAt *time.Time) error {
	from := core.PredecessorsOf(status)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing may move to %q", core.ErrInvalidStatusTransition, status)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []any{status, nullableTime(completedAt), id}
	for _, st := range from {
		args = append(args, st)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND status IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task status rows: %w", err)
	}
	if rows > 0 {
		return nil
	}
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", core.ErrInvalidStatusTransition, current.Status, status)
}

// CountTasksByStatus returns the number of tasks per status.
func (s *Store) CountTasksByStatus(ctx context.Context) (map[core.TaskStatus]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()
	counts := make(map[core.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[core.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*core.Task, error) {
	var (
		task        core.Task
		status      string
		createdAt   string
		completedAt sql.NullString
	)
	if err := scanner.Scan(&task.ID, &task.Name, &task.StartTime, &task.DurationMinutes, &task.AlertGapMinutes,
		&task.Instructions, &status, &createdAt, &completedAt); err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.Status = core.TaskStatus(status)
	if t, err := time.Parse(timeLayout, createdAt); err == nil {
		task.CreatedAt = t
	}
	if completedAt.Valid {
		if t, err := time.Parse(timeLayout, completedAt.String); err == nil {
			task.CompletedAt = &t
		}
	}
	return &task, nil
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(timeLayout)
}
