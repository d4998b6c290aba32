package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskproof/internal/alarm"
	"taskproof/internal/api"
	"taskproof/internal/oracle"
	"taskproof/internal/testsupport"
	"taskproof/internal/workflow"
)

type cliTestEnv struct {
	addr   string
	engine *workflow.Engine
	clock  *testsupport.Clock
	judge  *oracle.Scripted
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("TASKPROOF_ADDR", "")
	t.Setenv("TASKPROOF_AUTH_TOKEN", "")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := testsupport.OpenStore(t)
	clock := testsupport.At(7, 0, time.UTC)
	signaler := alarm.NewSignaler(alarm.Nop(), logger, alarm.WithCadence(time.Hour))
	t.Cleanup(signaler.StopAll)
	judge := oracle.NewScripted()
	engine := workflow.NewEngine(st, signaler, judge, logger, workflow.WithClock(clock.Now), workflow.WithLocation(time.UTC))
	srv := api.NewServer("127.0.0.1:0", engine, st, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &cliTestEnv{addr: ts.URL, engine: engine, clock: clock, judge: judge}
}

func (e *cliTestEnv) activate(t *testing.T, id string) {
	t.Helper()
	task, err := e.engine.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if err := e.engine.Activate(context.Background(), task, e.clock.Now()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
}

func runCLI(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--addr", addr}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
