package core

import (
	"errors"
	"time"
)

// TaskStatus describes the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusActive    TaskStatus = "active"
	TaskStatusCompleted TaskStatus = "completed"
)

var (
	// ErrTaskNotFound is returned when a task id does not resolve to a stored task.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidStatusTransition is returned when a status change would regress a task.
	ErrInvalidStatusTransition = errors.New("invalid task status transition")
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusActive, TaskStatusCompleted:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a task may move from one status to another.
// pending -> active -> completed, plus the active -> active retry loop.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusPending:
		return to == TaskStatusActive
	case TaskStatusActive:
		return to == TaskStatusActive || to == TaskStatusCompleted
	default:
		return false
	}
}

// PredecessorsOf lists the statuses a task may hold before moving to status.
func PredecessorsOf(status TaskStatus) []TaskStatus {
	var out []TaskStatus
	for _, from := range []TaskStatus{TaskStatusPending, TaskStatusActive, TaskStatusCompleted} {
		if CanTransition(from, status) {
			out = append(out, from)
		}
	}
	return out
}

// Task is a scheduled obligation that must be proven done with photographic evidence.
type Task struct {
	ID              string
	Name            string
	StartTime       string // HH:MM, 24-hour
	DurationMinutes int
	AlertGapMinutes int
	Instructions    string
	Status          TaskStatus
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// AlertGap returns the alert interval as a duration.
func (t *Task) AlertGap() time.Duration {
	return time.Duration(t.AlertGapMinutes) * time.Minute
}

// Attempt captures one judged evidence submission. Attempts are append-only.
type Attempt struct {
	ID         string
	TaskID     string
	Image      []byte
	Success    bool
	Reasoning  string
	Confidence float64
	CreatedAt  time.Time
}
