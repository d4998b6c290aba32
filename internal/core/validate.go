package core

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxNameLength         = 100
	MinInstructionsLength = 10
	MaxInstructionsLength = 500
	MinDurationMinutes    = 1
	MaxDurationMinutes    = 1440
	MinAlertGapMinutes    = 1
	MaxAlertGapMinutes    = 60
	// DefaultAlertGapMinutes applies when a caller omits the alert gap.
	DefaultAlertGapMinutes = 5

	// ClockLayout is the wall-clock layout used for start times.
	ClockLayout = "15:04"
)

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// TaskInput is the caller-supplied portion of a task.
type TaskInput struct {
	Name            string
	StartTime       string
	DurationMinutes int
	AlertGapMinutes int
	Instructions    string
}

// ValidationError describes one rejected task field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates every field that failed validation.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return "invalid task: " + strings.Join(parts, "; ")
}

// Validate checks the input against the task field rules. Fields are
// measured and stored as given, surrounding whitespace included.
func (in TaskInput) Validate() (TaskInput, error) {
	var errs ValidationErrors
	if n := utf8.RuneCountInString(in.Name); n == 0 || n > MaxNameLength {
		errs = append(errs, &ValidationError{Field: "name", Message: fmt.Sprintf("must be 1-%d characters", MaxNameLength)})
	}
	if !clockPattern.MatchString(in.StartTime) {
		errs = append(errs, &ValidationError{Field: "start_time", Message: "invalid time format, use HH:MM (24-hour)"})
	}
	if in.DurationMinutes < MinDurationMinutes || in.DurationMinutes > MaxDurationMinutes {
		errs = append(errs, &ValidationError{Field: "duration_minutes", Message: fmt.Sprintf("must be between %d and %d", MinDurationMinutes, MaxDurationMinutes)})
	}
	if in.AlertGapMinutes < MinAlertGapMinutes || in.AlertGapMinutes > MaxAlertGapMinutes {
		errs = append(errs, &ValidationError{Field: "alert_gap_minutes", Message: fmt.Sprintf("must be between %d and %d", MinAlertGapMinutes, MaxAlertGapMinutes)})
	}
	if n := utf8.RuneCountInString(in.Instructions); n < MinInstructionsLength || n > MaxInstructionsLength {
		errs = append(errs, &ValidationError{Field: "instructions", Message: fmt.Sprintf("must be %d-%d characters", MinInstructionsLength, MaxInstructionsLength)})
	}
	if len(errs) > 0 {
		return in, errs
	}
	return in, nil
}

// ClockString formats t at minute granularity, the resolution used for start-time matching.
func ClockString(t time.Time) string {
	return t.Format(ClockLayout)
}

// StartsAt reports whether the task's start time matches the wall-clock minute of now.
func (t *Task) StartsAt(now time.Time) bool {
	return t.StartTime == ClockString(now)
}
