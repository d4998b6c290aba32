package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"taskproof/internal/core"
)

var ErrAttemptNotFound = errors.New("attempt not found")

// InsertAttempt appends a verification attempt. The image is stored base64 encoded.
func (s *Store) InsertAttempt(ctx context.Context, attempt *core.Attempt) error {
	if attempt.ID == "" {
		attempt.ID = core.NewID()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO attempts (id, task_id, image_data, success, reasoning, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, attempt.ID, attempt.TaskID, base64.StdEncoding.EncodeToString(attempt.Image), attempt.Success,
		attempt.Reasoning, attempt.Confidence, attempt.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// GetAttempt loads one attempt including its image payload.
func (s *Store) GetAttempt(ctx context.Context, id string) (*core.Attempt, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, task_id, image_data, success, reasoning, confidence, created_at
		FROM attempts WHERE id = ?
	`, id)
	var (
		attempt   core.Attempt
		image     string
		createdAt string
	)
	if err := row.Scan(&attempt.ID, &attempt.TaskID, &image, &attempt.Success, &attempt.Reasoning,
		&attempt.Confidence, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("scan attempt: %w", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(image)
	if err != nil {
		return nil, fmt.Errorf("decode attempt image: %w", err)
	}
	attempt.Image = decoded
	if attempt.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &attempt, nil
}

// ListAttempts returns a task's attempts newest first, without image payloads.
func (s *Store) ListAttempts(ctx context.Context, taskID string, limit, offset int) ([]*core.Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, task_id, success, reasoning, confidence, created_at
		FROM attempts
		WHERE task_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, taskID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	var attempts []*core.Attempt
	for rows.Next() {
		var (
			attempt   core.Attempt
			createdAt string
		)
		if err := rows.Scan(&attempt.ID, &attempt.TaskID, &attempt.Success, &attempt.Reasoning,
			&attempt.Confidence, &createdAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		created, err := parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		attempt.CreatedAt = created
		attempts = append(attempts, &attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return attempts, nil
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", value, err)
	}
	return t, nil
}
