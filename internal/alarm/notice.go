package alarm

import (
	"context"
	"fmt"
	"time"
)

// Kind distinguishes the repeating alarm from the one-shot pre-alert.
type Kind string

const (
	KindAlarm   Kind = "alarm"
	KindWarning Kind = "warning"
)

// Notice is one attention signal handed to a Sink.
type Notice struct {
	Kind     Kind
	TaskID   string
	TaskName string
	// Alert is the escalation counter, starting at 1 for the first alarm notice.
	Alert int
	// AlertGap is the minimum spacing between escalation pushes for the task.
	AlertGap     time.Duration
	MinutesUntil int
	At           time.Time
}

// Title returns a short headline for the notice.
func (n Notice) Title() string {
	if n.Kind == KindWarning {
		return "Task starting soon"
	}
	return fmt.Sprintf("Verify %q now", n.TaskName)
}

// Message returns the human readable notice body.
func (n Notice) Message() string {
	if n.Kind == KindWarning {
		return fmt.Sprintf("Task %q starts in %d minutes. Get ready to verify with a photo.", n.TaskName, n.MinutesUntil)
	}
	return fmt.Sprintf("Complete verification for %q! (Alert #%d)", n.TaskName, n.Alert)
}

// Sink receives notices. Sink failures never stop an alarm.
type Sink interface {
	Play(ctx context.Context, n Notice) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, n Notice) error

func (f SinkFunc) Play(ctx context.Context, n Notice) error {
	return f(ctx, n)
}

// Releaser is implemented by sinks that keep per-task state.
type Releaser interface {
	Release(taskID string)
}

type nopSink struct{}

func (nopSink) Play(context.Context, Notice) error { return nil }

// Nop returns a sink that discards every notice.
func Nop() Sink {
	return nopSink{}
}
