package store

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"taskproof/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTask(name, start string) *core.Task {
	return &core.Task{
		Name:            name,
		StartTime:       start,
		DurationMinutes: 30,
		AlertGapMinutes: 5,
		Instructions:    "Photo of the finished task",
	}
}

func TestInsertAndGetTask(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	task := newTask("Morning run", "06:30")
	if err := st.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if task.ID == "" || task.Status != core.TaskStatusPending {
		t.Fatalf("expected id and pending status to be assigned, got %+v", task)
	}

	got, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Name != task.Name || got.StartTime != task.StartTime || got.DurationMinutes != 30 ||
		got.AlertGapMinutes != 5 || got.Instructions != task.Instructions {
		t.Fatalf("fields not echoed: %+v", got)
	}
	if got.Status != core.TaskStatusPending || got.CompletedAt != nil {
		t.Fatalf("expected pending task without completion, got %+v", got)
	}
	if !got.CreatedAt.Equal(task.CreatedAt) {
		t.Fatalf("created_at mismatch: %v vs %v", got.CreatedAt, task.CreatedAt)
	}

	if _, err := st.GetTask(ctx, "nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestListTasksOrderedByStartTime(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	for _, start := range []string{"18:00", "07:15", "12:00"} {
		if err := st.InsertTask(ctx, newTask("task "+start, start)); err != nil {
			t.Fatalf("InsertTask: %v", err)
		}
	}
	tasks, err := st.ListTasks(ctx, nil)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 3 || tasks[0].StartTime != "07:15" || tasks[2].StartTime != "18:00" {
		t.Fatalf("unexpected order: %v, %v, %v", tasks[0].StartTime, tasks[1].StartTime, tasks[2].StartTime)
	}

	if err := st.UpdateTaskStatus(ctx, tasks[1].ID, core.TaskStatusActive, nil); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	active := core.TaskStatusActive
	filtered, err := st.ListTasks(ctx, &active)
	if err != nil {
		t.Fatalf("ListTasks filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != tasks[1].ID {
		t.Fatalf("unexpected filtered tasks %+v", filtered)
	}
	counts, err := st.CountTasksByStatus(ctx)
	if err != nil {
		t.Fatalf("CountTasksByStatus: %v", err)
	}
	if counts[core.TaskStatusPending] != 2 || counts[core.TaskStatusActive] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestUpdateTaskStatusTransitions(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	task := newTask("Laundry", "20:00")
	if err := st.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	done := time.Date(2025, 3, 14, 20, 7, 0, 0, time.UTC)
	if err := st.UpdateTaskStatus(ctx, task.ID, core.TaskStatusCompleted, &done); !errors.Is(err, core.ErrInvalidStatusTransition) {
		t.Fatalf("pending -> completed should be rejected, got %v", err)
	}
	if err := st.UpdateTaskStatus(ctx, task.ID, core.TaskStatusActive, nil); err != nil {
		t.Fatalf("pending -> active: %v", err)
	}
	if err := st.UpdateTaskStatus(ctx, task.ID, core.TaskStatusCompleted, &done); err != nil {
		t.Fatalf("active -> completed: %v", err)
	}
	got, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != core.TaskStatusCompleted || got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Fatalf("unexpected completed task %+v", got)
	}
	if err := st.UpdateTaskStatus(ctx, task.ID, core.TaskStatusActive, nil); !errors.Is(err, core.ErrInvalidStatusTransition) {
		t.Fatalf("completed task must not regress, got %v", err)
	}
	if err := st.UpdateTaskStatus(ctx, "missing", core.TaskStatusActive, nil); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAttemptsRoundTripAndCascade(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	task := newTask("Dishes", "21:00")
	if err := st.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	image := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}
	base := time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC)
	first := &core.Attempt{TaskID: task.ID, Image: image, Success: false, Reasoning: "sink still full", Confidence: 0.3, CreatedAt: base}
	second := &core.Attempt{TaskID: task.ID, Image: image, Success: true, Reasoning: "clean", Confidence: 0.95, CreatedAt: base.Add(500 * time.Millisecond)}
	for _, a := range []*core.Attempt{first, second} {
		if err := st.InsertAttempt(ctx, a); err != nil {
			t.Fatalf("InsertAttempt: %v", err)
		}
	}

	got, err := st.GetAttempt(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if !bytes.Equal(got.Image, image) || got.Reasoning != "sink still full" || got.Confidence != 0.3 {
		t.Fatalf("unexpected attempt %+v", got)
	}

	list, err := st.ListAttempts(ctx, task.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[0].Image != nil {
		t.Fatalf("expected newest first without images, got %+v", list)
	}

	if err := st.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if left, err := st.ListAttempts(ctx, task.ID, 10, 0); err != nil || len(left) != 0 {
		t.Fatalf("expected attempts to be removed, got %d (err=%v)", len(left), err)
	}
	if _, err := st.GetAttempt(ctx, first.ID); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
	if err := st.DeleteTask(ctx, task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found on repeated delete, got %v", err)
	}
}

func TestInsertAttemptRequiresTask(t *testing.T) {
	st := openTestStore(t)
	err := st.InsertAttempt(context.Background(), &core.Attempt{TaskID: "ghost", Image: []byte("x"), Reasoning: "r"})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestCorruptAttemptTimestampIsAnError(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	task := newTask("Dishes", "21:00")
	if err := st.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	attempt := &core.Attempt{TaskID: task.ID, Image: []byte("x"), Reasoning: "r"}
	if err := st.InsertAttempt(ctx, attempt); err != nil {
		t.Fatalf("InsertAttempt: %v", err)
	}
	if _, err := st.DB.ExecContext(ctx, `UPDATE attempts SET created_at = 'yesterday' WHERE id = ?`, attempt.ID); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	if _, err := st.ListAttempts(ctx, task.ID, 10, 0); err == nil {
		t.Fatal("expected ListAttempts to report the bad timestamp")
	}
	if _, err := st.GetAttempt(ctx, attempt.ID); err == nil {
		t.Fatal("expected GetAttempt to report the bad timestamp")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	first, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := first.InsertTask(ctx, newTask("Persist", "09:00")); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	_ = first.Close()

	second, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	tasks, err := second.ListTasks(ctx, nil)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected persisted task, got %d", len(tasks))
	}
}
