package mcp

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"taskproof/internal/alarm"
	"taskproof/internal/core"
	"taskproof/internal/oracle"
	"taskproof/internal/testsupport"
	"taskproof/internal/workflow"
)

var pngEvidence = []byte("\x89PNG\r\n\x1a\nevidence")

func newTestServer(t *testing.T, replies ...oracle.Reply) (*MCPServer, *workflow.Engine, *testsupport.Clock) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := testsupport.OpenStore(t)
	clock := testsupport.At(7, 0, time.UTC)
	signaler := alarm.NewSignaler(alarm.Nop(), logger, alarm.WithCadence(time.Hour))
	t.Cleanup(signaler.StopAll)
	engine := workflow.NewEngine(st, signaler, oracle.NewScripted(replies...), logger,
		workflow.WithClock(clock.Now), workflow.WithLocation(time.UTC))
	return NewMCPServer(engine, logger, time.UTC), engine, clock
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	result, err := handler(context.Background(), mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}})
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("handler returned no content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want mcp.TextContent", result.Content[0])
	}
	return text.Text, result.IsError
}

func createWorkout(t *testing.T, s *MCPServer, engine *workflow.Engine) *core.Task {
	t.Helper()
	text, isErr := call(t, s.handleCreateTask, map[string]any{
		"name":                      "Workout",
		"start_time":                "07:00",
		"duration_minutes":          float64(30),
		"verification_instructions": "Show gym equipment",
	})
	if isErr {
		t.Fatalf("task_create failed: %s", text)
	}
	tasks, err := engine.ListTasks(context.Background(), nil)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("ListTasks = %v, %v", tasks, err)
	}
	if !strings.Contains(text, tasks[0].ID) {
		t.Fatalf("create output %q does not mention id %s", text, tasks[0].ID)
	}
	return tasks[0]
}

func TestCreateAndListTasks(t *testing.T) {
	s, engine, _ := newTestServer(t)
	task := createWorkout(t, s, engine)
	if task.AlertGapMinutes != 5 {
		t.Fatalf("alert gap = %d, want default 5", task.AlertGapMinutes)
	}

	text, isErr := call(t, s.handleListTasks, map[string]any{"status": "pending"})
	if isErr || !strings.Contains(text, "Workout") || !strings.Contains(text, "Found 1 tasks") {
		t.Fatalf("task_list = %q (error %v)", text, isErr)
	}
	text, _ = call(t, s.handleListTasks, map[string]any{"status": "completed"})
	if text != "No tasks found" {
		t.Fatalf("completed filter = %q", text)
	}
	if _, isErr := call(t, s.handleListTasks, map[string]any{"status": "sleeping"}); !isErr {
		t.Fatalf("expected error for unknown status filter")
	}

	text, isErr = call(t, s.handleGetTask, map[string]any{"task_id": task.ID})
	if isErr || !strings.Contains(text, "Show gym equipment") || !strings.Contains(text, "pending") {
		t.Fatalf("task_get = %q", text)
	}
}

func TestCreateTaskRejectsInvalidInput(t *testing.T) {
	s, _, _ := newTestServer(t)
	text, isErr := call(t, s.handleCreateTask, map[string]any{
		"name":                      "",
		"start_time":                "25:00",
		"duration_minutes":          float64(30),
		"verification_instructions": "short",
	})
	if !isErr {
		t.Fatalf("expected tool error, got %q", text)
	}
	for _, field := range []string{"name", "start_time", "instructions"} {
		if !strings.Contains(text, field) {
			t.Fatalf("error %q does not mention %s", text, field)
		}
	}
}

func TestSubmitEvidenceFlow(t *testing.T) {
	s, engine, clock := newTestServer(t, oracle.Fail(0.2, "No gym equipment"), oracle.Pass(0.9, "Dumbbells visible"))
	task := createWorkout(t, s, engine)

	encoded := base64.StdEncoding.EncodeToString(pngEvidence)
	if text, isErr := call(t, s.handleSubmitEvidence, map[string]any{"task_id": task.ID, "image_base64": encoded}); !isErr {
		t.Fatalf("pending task accepted evidence: %q", text)
	}

	if err := engine.Activate(context.Background(), task, clock.Now()); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	text, isErr := call(t, s.handleSubmitEvidence, map[string]any{"task_id": task.ID, "image_base64": "data:image/png;base64," + encoded})
	if isErr || !strings.Contains(text, "FAILED") || !strings.Contains(text, "active") {
		t.Fatalf("first submission = %q (error %v)", text, isErr)
	}

	path := filepath.Join(t.TempDir(), "proof.png")
	if err := os.WriteFile(path, pngEvidence, 0o600); err != nil {
		t.Fatalf("write image: %v", err)
	}
	text, isErr = call(t, s.handleSubmitEvidence, map[string]any{"task_id": task.ID, "image_path": path})
	if isErr || !strings.Contains(text, "PASSED") || !strings.Contains(text, "completed") {
		t.Fatalf("second submission = %q (error %v)", text, isErr)
	}

	text, _ = call(t, s.handleListAttempts, map[string]any{"task_id": task.ID})
	if !strings.Contains(text, "(2)") || strings.Index(text, "Dumbbells") > strings.Index(text, "No gym") {
		t.Fatalf("task_attempts = %q", text)
	}

	text, _ = call(t, s.handleStatus, nil)
	if !strings.Contains(text, "1 completed") || !strings.Contains(text, "Active alarms: 0") {
		t.Fatalf("task_status = %q", text)
	}
}

func TestSubmitEvidenceImageArguments(t *testing.T) {
	s, engine, _ := newTestServer(t)
	task := createWorkout(t, s, engine)

	cases := []map[string]any{
		{"task_id": task.ID},
		{"task_id": task.ID, "image_base64": "!!!"},
		{"task_id": task.ID, "image_path": filepath.Join(t.TempDir(), "missing.png")},
		{"task_id": task.ID, "image_base64": "aGk=", "image_path": "/tmp/x.png"},
	}
	for _, args := range cases {
		if text, isErr := call(t, s.handleSubmitEvidence, args); !isErr {
			t.Fatalf("args %v accepted: %q", args, text)
		}
	}
}

func TestDeleteTask(t *testing.T) {
	s, engine, _ := newTestServer(t)
	task := createWorkout(t, s, engine)

	if text, isErr := call(t, s.handleDeleteTask, map[string]any{"task_id": task.ID}); isErr {
		t.Fatalf("task_delete = %q", text)
	}
	text, isErr := call(t, s.handleGetTask, map[string]any{"task_id": task.ID})
	if !isErr || text != "task not found" {
		t.Fatalf("task_get after delete = %q (error %v)", text, isErr)
	}
	if _, isErr := call(t, s.handleDeleteTask, map[string]any{"task_id": task.ID}); !isErr {
		t.Fatalf("second delete should fail")
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("short", 10); got != "short" {
		t.Fatalf("truncateString short = %q", got)
	}
	if got := truncateString("ééééééééééé", 8); got != "ééééé..." {
		t.Fatalf("truncateString runes = %q", got)
	}
}
