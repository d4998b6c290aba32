package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validInput() TaskInput {
	return TaskInput{
		Name:            "Workout",
		StartTime:       "07:30",
		DurationMinutes: 45,
		AlertGapMinutes: 5,
		Instructions:    "Show gym equipment",
	}
}

func TestTaskInputValidate(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*TaskInput)
		field string
	}{
		{"empty name", func(in *TaskInput) { in.Name = "" }, "name"},
		{"padded start time", func(in *TaskInput) { in.StartTime = " 07:30" }, "start_time"},
		{"long name", func(in *TaskInput) { in.Name = strings.Repeat("x", MaxNameLength+1) }, "name"},
		{"single digit hour", func(in *TaskInput) { in.StartTime = "7:30" }, "start_time"},
		{"hour out of range", func(in *TaskInput) { in.StartTime = "24:00" }, "start_time"},
		{"minute out of range", func(in *TaskInput) { in.StartTime = "12:60" }, "start_time"},
		{"zero duration", func(in *TaskInput) { in.DurationMinutes = 0 }, "duration_minutes"},
		{"duration too long", func(in *TaskInput) { in.DurationMinutes = MaxDurationMinutes + 1 }, "duration_minutes"},
		{"gap too large", func(in *TaskInput) { in.AlertGapMinutes = MaxAlertGapMinutes + 1 }, "alert_gap_minutes"},
		{"short instructions", func(in *TaskInput) { in.Instructions = "too short" }, "instructions"},
		{"long instructions", func(in *TaskInput) { in.Instructions = strings.Repeat("y", MaxInstructionsLength+1) }, "instructions"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mut(&in)
			_, err := in.Validate()
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %v", err)
			}
			if len(verrs) != 1 || verrs[0].Field != tc.field {
				t.Fatalf("expected a single %s error, got %v", tc.field, err)
			}
		})
	}
}

func TestTaskInputValidateKeepsRawFields(t *testing.T) {
	in := validInput()
	in.Name = "  Workout  "
	in.Instructions = "  Show gym equipment \n"
	out, err := in.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if out != in {
		t.Fatalf("expected fields echoed unchanged, got %+v", out)
	}

	// Surrounding spaces count toward the length limits.
	padded := validInput()
	padded.Instructions = " too short"
	if _, err := padded.Validate(); err != nil {
		t.Fatalf("ten characters including padding should pass: %v", err)
	}

	edge := validInput()
	edge.StartTime = "23:59"
	edge.DurationMinutes = MaxDurationMinutes
	edge.AlertGapMinutes = MinAlertGapMinutes
	edge.Name = strings.Repeat("é", MaxNameLength)
	if _, err := edge.Validate(); err != nil {
		t.Fatalf("boundary values should pass: %v", err)
	}
}

func TestStartsAt(t *testing.T) {
	task := &Task{StartTime: "09:05"}
	at := time.Date(2025, 1, 2, 9, 5, 59, 0, time.UTC)
	if !task.StartsAt(at) {
		t.Fatal("expected match within the start minute")
	}
	if task.StartsAt(at.Add(time.Second)) {
		t.Fatal("expected no match once the minute has passed")
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(TaskStatusPending, TaskStatusActive) || !CanTransition(TaskStatusActive, TaskStatusCompleted) {
		t.Fatal("expected forward transitions to be allowed")
	}
	if CanTransition(TaskStatusCompleted, TaskStatusActive) || CanTransition(TaskStatusPending, TaskStatusCompleted) {
		t.Fatal("expected regressions and skips to be rejected")
	}
	if got := PredecessorsOf(TaskStatusCompleted); len(got) != 1 || got[0] != TaskStatusActive {
		t.Fatalf("unexpected predecessors %v", got)
	}
	if TaskStatus("archived").Valid() {
		t.Fatal("unknown status must be invalid")
	}
}

func TestNewIDIsCompact(t *testing.T) {
	a, b := NewID(), NewID()
	if len(a) != 32 || strings.Contains(a, "-") || a == b {
		t.Fatalf("unexpected ids %q %q", a, b)
	}
}
