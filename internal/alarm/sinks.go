package alarm

import (
	"context"
	"errors"
	"sync"
	"time"

	"taskproof/internal/notify"
)

type multiSink []Sink

// Multi plays every notice on each sink and joins their failures.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Play(ctx context.Context, n Notice) error {
	var errs []error
	for _, s := range m {
		if err := s.Play(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiSink) Release(taskID string) {
	for _, s := range m {
		if r, ok := s.(Releaser); ok {
			r.Release(taskID)
		}
	}
}

// PushSink forwards notices to a push notifier, at most once per task alert gap.
// Warnings are always delivered.
type PushSink struct {
	notifier notify.Notifier
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewPushSink wraps notifier.
func NewPushSink(notifier notify.Notifier) *PushSink {
	return &PushSink{
		notifier: notifier,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

func (p *PushSink) Play(ctx context.Context, n Notice) error {
	if n.Kind == KindAlarm && !p.due(n) {
		return nil
	}
	return p.notifier.Send(ctx, n.Title(), n.Message())
}

func (p *PushSink) due(n Notice) bool {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.lastSent[n.TaskID]; ok && now.Sub(last) < n.AlertGap {
		return false
	}
	p.lastSent[n.TaskID] = now
	return true
}

// Release forgets the throttle state of a stopped alarm.
func (p *PushSink) Release(taskID string) {
	p.mu.Lock()
	delete(p.lastSent, taskID)
	p.mu.Unlock()
}
