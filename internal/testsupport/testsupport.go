// Package testsupport holds fixtures shared by package tests.
package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"

	"taskproof/internal/alarm"
	"taskproof/internal/store"
)

// OpenStore opens a fresh SQLite store in a temp dir and closes it on cleanup.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// Clock is a settable wall clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// At returns a clock fixed at hh:mm today in loc.
func At(hour, minute int, loc *time.Location) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return NewClock(time.Date(2025, time.March, 14, hour, minute, 0, 0, loc))
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// RecordingSink captures every notice played through it.
type RecordingSink struct {
	mu       sync.Mutex
	notices  []alarm.Notice
	released []string
	Err      error
}

func (r *RecordingSink) Play(_ context.Context, n alarm.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return r.Err
}

func (r *RecordingSink) Release(taskID string) {
	r.mu.Lock()
	r.released = append(r.released, taskID)
	r.mu.Unlock()
}

// Notices returns a copy of the recorded notices.
func (r *RecordingSink) Notices() []alarm.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alarm.Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Count returns how many notices of kind were recorded for taskID.
func (r *RecordingSink) Count(taskID string, kind alarm.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, notice := range r.notices {
		if notice.TaskID == taskID && notice.Kind == kind {
			n++
		}
	}
	return n
}

// Released returns the task ids passed to Release.
func (r *RecordingSink) Released() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.released...)
}

// Eventually polls cond until it holds or the timeout elapses.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
