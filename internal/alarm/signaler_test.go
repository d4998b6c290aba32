package alarm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"taskproof/internal/alarm"
	"taskproof/internal/core"
	"taskproof/internal/testsupport"
)

func newSignaler(t *testing.T, sink alarm.Sink, cadence time.Duration) *alarm.Signaler {
	t.Helper()
	s := alarm.NewSignaler(sink, slog.New(slog.NewTextHandler(io.Discard, nil)), alarm.WithCadence(cadence))
	t.Cleanup(s.StopAll)
	return s
}

func TestStartIsIdempotent(t *testing.T) {
	sink := &testsupport.RecordingSink{}
	s := newSignaler(t, sink, 5*time.Millisecond)

	if !s.Start("t1", "Workout") {
		t.Fatal("expected first start to begin an alarm")
	}
	if s.Start("t1", "Workout") {
		t.Fatal("expected second start to be a no-op")
	}
	if active := s.Active(); len(active) != 1 || active[0] != "t1" {
		t.Fatalf("expected exactly one alarm, got %v", active)
	}

	testsupport.Eventually(t, time.Second, func() bool { return sink.Count("t1", alarm.KindAlarm) >= 3 }, "three notices")
	notices := sink.Notices()
	for i, n := range notices[:3] {
		if n.Alert != i+1 {
			t.Fatalf("expected escalating alert counter, got %d at %d", n.Alert, i)
		}
	}
	if s.Alerts("t1") < 3 {
		t.Fatalf("expected alert counter >= 3, got %d", s.Alerts("t1"))
	}
}

func TestStopSilencesAlarm(t *testing.T) {
	sink := &testsupport.RecordingSink{}
	s := newSignaler(t, sink, 5*time.Millisecond)
	s.Start("t1", "Workout")
	testsupport.Eventually(t, time.Second, func() bool { return sink.Count("t1", alarm.KindAlarm) > 0 }, "first notice")

	if !s.Stop("t1") {
		t.Fatal("expected stop to report a running alarm")
	}
	if s.IsActive("t1") {
		t.Fatal("alarm still active after stop")
	}
	if s.Stop("t1") {
		t.Fatal("second stop should be a no-op")
	}
	s.StopAll()
	after := sink.Count("t1", alarm.KindAlarm)
	time.Sleep(30 * time.Millisecond)
	if got := sink.Count("t1", alarm.KindAlarm); got != after {
		t.Fatalf("notices kept arriving after stop: %d -> %d", after, got)
	}
	if released := sink.Released(); len(released) != 1 || released[0] != "t1" {
		t.Fatalf("expected sink release for t1, got %v", released)
	}
}

func TestStopInterruptsWaitImmediately(t *testing.T) {
	s := newSignaler(t, alarm.Nop(), time.Hour)
	s.Start("t1", "Workout")

	done := make(chan struct{})
	go func() {
		s.Stop("t1")
		s.StopAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop waited out the cadence")
	}
}

func TestStartAfterStopAllIsRefused(t *testing.T) {
	sink := &testsupport.RecordingSink{}
	s := newSignaler(t, sink, 5*time.Millisecond)
	s.Start("t1", "Workout")
	s.StopAll()

	if s.Start("t2", "Read") {
		t.Fatal("expected start after shutdown to be refused")
	}
	if active := s.Active(); len(active) != 0 {
		t.Fatalf("expected no alarms after shutdown, got %v", active)
	}
	time.Sleep(20 * time.Millisecond)
	if n := sink.Count("t2", alarm.KindAlarm); n != 0 {
		t.Fatalf("refused alarm emitted %d notices", n)
	}
}

func TestSinkFailureDoesNotStopAlarm(t *testing.T) {
	sink := &testsupport.RecordingSink{Err: errors.New("no audio device")}
	s := newSignaler(t, sink, 5*time.Millisecond)
	s.Start("t1", "Workout")
	testsupport.Eventually(t, time.Second, func() bool { return sink.Count("t1", alarm.KindAlarm) >= 2 }, "notices despite failures")
	if !s.IsActive("t1") {
		t.Fatal("alarm should survive sink failures")
	}
}

func TestWarnIsOneShot(t *testing.T) {
	sink := &testsupport.RecordingSink{}
	s := newSignaler(t, sink, time.Hour)
	task := &core.Task{ID: "t1", Name: "Workout", AlertGapMinutes: 2}
	s.Warn(context.Background(), task, 5*time.Minute)

	if got := sink.Count("t1", alarm.KindWarning); got != 1 {
		t.Fatalf("expected one warning, got %d", got)
	}
	if s.IsActive("t1") {
		t.Fatal("warning must not register an alarm")
	}
	n := sink.Notices()[0]
	if n.MinutesUntil != 5 || n.Message() != `Task "Workout" starts in 5 minutes. Get ready to verify with a photo.` {
		t.Fatalf("unexpected warning notice %+v / %q", n, n.Message())
	}
}

func TestNoticeMessage(t *testing.T) {
	n := alarm.Notice{Kind: alarm.KindAlarm, TaskName: "Workout", Alert: 3}
	if got := n.Message(); got != `Complete verification for "Workout"! (Alert #3)` {
		t.Fatalf("unexpected message %q", got)
	}
}
