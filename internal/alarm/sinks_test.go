package alarm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (r *recordingNotifier) Send(ctx context.Context, title, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func TestPushSinkThrottlesByAlertGap(t *testing.T) {
	notifier := &recordingNotifier{}
	sink := NewPushSink(notifier)
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return now }
	ctx := context.Background()
	notice := Notice{Kind: KindAlarm, TaskID: "t1", TaskName: "Workout", AlertGap: time.Minute}

	for i := 0; i < 5; i++ {
		if err := sink.Play(ctx, notice); err != nil {
			t.Fatalf("Play: %v", err)
		}
		now = now.Add(2 * time.Second)
	}
	if got := notifier.count(); got != 1 {
		t.Fatalf("expected one push within the gap, got %d", got)
	}

	now = now.Add(time.Minute)
	_ = sink.Play(ctx, notice)
	if got := notifier.count(); got != 2 {
		t.Fatalf("expected a second push after the gap, got %d", got)
	}

	_ = sink.Play(ctx, Notice{Kind: KindWarning, TaskID: "t1", TaskName: "Workout", MinutesUntil: 5})
	if got := notifier.count(); got != 3 {
		t.Fatalf("warnings are never throttled, got %d", got)
	}

	sink.Release("t1")
	_ = sink.Play(ctx, notice)
	if got := notifier.count(); got != 4 {
		t.Fatalf("release should reset the throttle, got %d", got)
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	errA := errors.New("a")
	ok := &recordingNotifier{}
	sink := Multi(
		SinkFunc(func(context.Context, Notice) error { return errA }),
		nil,
		NewPushSink(ok),
	)
	err := sink.Play(context.Background(), Notice{Kind: KindWarning, TaskID: "t1"})
	if !errors.Is(err, errA) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ok.count() != 1 {
		t.Fatal("a failing sink must not prevent the others from playing")
	}
}

func TestSoundSinkRunsCommand(t *testing.T) {
	if _, err := NewSoundSink("  ", time.Second, nil); err == nil {
		t.Fatal("expected empty command to be rejected")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink, err := NewSoundSink("true", time.Second, logger)
	if err != nil {
		t.Fatalf("NewSoundSink: %v", err)
	}
	if err := sink.Play(context.Background(), Notice{Kind: KindAlarm, TaskID: "t1"}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for sink.playing.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.playing.Load() {
		t.Fatal("sound command did not finish")
	}
}
