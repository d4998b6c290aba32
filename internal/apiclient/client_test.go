package apiclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskproof/internal/alarm"
	"taskproof/internal/api"
	"taskproof/internal/oracle"
	"taskproof/internal/testsupport"
	"taskproof/internal/workflow"
)

var pngEvidence = []byte("\x89PNG\r\n\x1a\nevidence")

type daemon struct {
	client *Client
	engine *workflow.Engine
	clock  *testsupport.Clock
	judge  *oracle.Scripted
}

func startDaemon(t *testing.T, token string) *daemon {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := testsupport.OpenStore(t)
	clock := testsupport.At(7, 0, time.UTC)
	signaler := alarm.NewSignaler(alarm.Nop(), logger, alarm.WithCadence(time.Hour))
	t.Cleanup(signaler.StopAll)
	judge := oracle.NewScripted()
	engine := workflow.NewEngine(st, signaler, judge, logger, workflow.WithClock(clock.Now), workflow.WithLocation(time.UTC))
	srv := api.NewServer("127.0.0.1:0", engine, st, logger, api.WithAuthToken(token))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &daemon{client: New(ts.URL, WithToken(token)), engine: engine, clock: clock, judge: judge}
}

func TestTaskRoundTrip(t *testing.T) {
	d := startDaemon(t, "")
	ctx := context.Background()

	created, err := d.client.CreateTask(ctx, CreateTaskRequest{
		Name:                     "Workout",
		StartTime:                "07:00",
		DurationMinutes:          30,
		VerificationInstructions: "Show gym equipment",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.Status != "pending" || created.AlertGapMinutes != 5 {
		t.Fatalf("created = %+v", created)
	}

	got, err := d.client.GetTask(ctx, created.ID)
	if err != nil || got.Name != "Workout" {
		t.Fatalf("GetTask = %+v, %v", got, err)
	}

	tasks, err := d.client.ListTasks(ctx, "pending")
	if err != nil || len(tasks) != 1 {
		t.Fatalf("ListTasks = %v, %v", tasks, err)
	}
	tasks, err = d.client.ListTasks(ctx, "completed")
	if err != nil || len(tasks) != 0 {
		t.Fatalf("ListTasks(completed) = %v, %v", tasks, err)
	}

	if err := d.client.DeleteTask(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := d.client.GetTask(ctx, created.ID); !IsNotFound(err) {
		t.Fatalf("GetTask after delete err = %v, want not found", err)
	}
}

func TestCreateTaskValidationError(t *testing.T) {
	d := startDaemon(t, "")
	_, err := d.client.CreateTask(context.Background(), CreateTaskRequest{
		Name:                     "Workout",
		StartTime:                "7am",
		DurationMinutes:          30,
		VerificationInstructions: "Show gym equipment",
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "invalid_input" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
	if len(apiErr.Fields) != 1 || apiErr.Fields[0].Field != "start_time" {
		t.Fatalf("fields = %+v", apiErr.Fields)
	}
}

func TestVerifyAndAttempts(t *testing.T) {
	d := startDaemon(t, "")
	ctx := context.Background()
	d.judge.Push(oracle.Fail(0.2, "No gym equipment"), oracle.Pass(0.9, "Dumbbells visible"))

	created, err := d.client.CreateTask(ctx, CreateTaskRequest{
		Name:                     "Workout",
		StartTime:                "07:00",
		DurationMinutes:          30,
		AlertGapMinutes:          1,
		VerificationInstructions: "Show gym equipment",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	_, err = d.client.Verify(ctx, created.ID, "proof.png", pngEvidence)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict || apiErr.Code != "not_active" {
		t.Fatalf("verify pending task err = %v", err)
	}

	task, err := d.engine.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("engine.GetTask: %v", err)
	}
	if err := d.engine.Activate(ctx, task, d.clock.Now()); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	first, err := d.client.Verify(ctx, created.ID, "proof.png", pngEvidence)
	if err != nil || first.Success || first.TaskStatus != "active" {
		t.Fatalf("first verify = %+v, %v", first, err)
	}
	second, err := d.client.Verify(ctx, created.ID, "proof.png", pngEvidence)
	if err != nil || !second.Success || second.TaskStatus != "completed" {
		t.Fatalf("second verify = %+v, %v", second, err)
	}

	attempts, err := d.client.ListAttempts(ctx, created.ID, 10)
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(attempts) != 2 || attempts[0].ID != second.AttemptID || attempts[1].ID != first.AttemptID {
		t.Fatalf("attempts = %+v", attempts)
	}

	status, err := d.client.Status(ctx)
	if err != nil || status.CompletedTasks != 1 || status.ActiveAlarms != 0 {
		t.Fatalf("Status = %+v, %v", status, err)
	}
}

func TestTokenIsSent(t *testing.T) {
	d := startDaemon(t, "s3cret")
	if _, err := d.client.Status(context.Background()); err != nil {
		t.Fatalf("Status with token: %v", err)
	}

	anonymous := New(d.client.baseURL)
	_, err := anonymous.Status(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous Status err = %v, want 401", err)
	}

	health, err := anonymous.Health(context.Background())
	if err != nil || health.Status != "healthy" {
		t.Fatalf("Health = %+v, %v", health, err)
	}
}

func TestDegradedHealthKeepsBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"status":"degraded","services":{"database":"error"}}`)
	}))
	defer ts.Close()

	health, err := New(ts.URL).Health(context.Background())
	if err == nil {
		t.Fatalf("expected error for 503")
	}
	if health == nil || health.Services["database"] != "error" {
		t.Fatalf("health = %+v", health)
	}
}

func TestNewAddsScheme(t *testing.T) {
	if got := New("127.0.0.1:8000/").baseURL; got != "http://127.0.0.1:8000" {
		t.Fatalf("baseURL = %q", got)
	}
	if got := New("https://example.com").baseURL; got != "https://example.com" {
		t.Fatalf("baseURL = %q", got)
	}
}
