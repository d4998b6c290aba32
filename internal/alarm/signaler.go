package alarm

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"taskproof/internal/core"
)

const (
	// DefaultCadence is the spacing between alarm notices.
	DefaultCadence     = 2 * time.Second
	defaultPlayTimeout = 10 * time.Second
)

// Signaler owns the per-task alarm loops. At most one loop runs per task id.
type Signaler struct {
	sink        Sink
	logger      *slog.Logger
	cadence     time.Duration
	playTimeout time.Duration
	now         func() time.Time

	mu     sync.Mutex
	alarms map[string]*handle
	closed bool
	wg     sync.WaitGroup
}

type handle struct {
	name   string
	gap    time.Duration
	cancel context.CancelFunc
	alerts atomic.Int64
}

// Option customizes a Signaler.
type Option func(*Signaler)

// WithCadence overrides the spacing between alarm notices.
func WithCadence(cadence time.Duration) Option {
	return func(s *Signaler) {
		if cadence > 0 {
			s.cadence = cadence
		}
	}
}

// WithPlayTimeout bounds how long a single sink call may take.
func WithPlayTimeout(timeout time.Duration) Option {
	return func(s *Signaler) {
		if timeout > 0 {
			s.playTimeout = timeout
		}
	}
}

// WithClock injects the clock used to stamp notices.
func WithClock(now func() time.Time) Option {
	return func(s *Signaler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSignaler builds a signaler that emits notices to sink.
func NewSignaler(sink Sink, logger *slog.Logger, opts ...Option) *Signaler {
	if sink == nil {
		sink = Nop()
	}
	s := &Signaler{
		sink:        sink,
		logger:      logger,
		cadence:     DefaultCadence,
		playTimeout: defaultPlayTimeout,
		now:         time.Now,
		alarms:      make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartOption customizes a single alarm.
type StartOption func(*handle)

// WithAlertGap records the task's escalation spacing on every notice.
func WithAlertGap(gap time.Duration) StartOption {
	return func(h *handle) {
		h.gap = gap
	}
}

// Start begins the notice loop for taskID. It reports false when an alarm
// was already running or the signaler has been shut down.
func (s *Signaler) Start(taskID, taskName string, opts ...StartOption) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Warn("alarm refused after shutdown", "task_id", taskID)
		return false
	}
	if _, ok := s.alarms[taskID]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		name:   taskName,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	s.alarms[taskID] = h
	s.wg.Add(1)
	go s.run(ctx, taskID, h)
	s.logger.Warn("alarm started", "task_id", taskID, "task_name", taskName)
	return true
}

// Stop cancels the loop for taskID and forgets it. The loop's pending wait
// is interrupted immediately. It reports false when no alarm was running.
func (s *Signaler) Stop(taskID string) bool {
	s.mu.Lock()
	h, ok := s.alarms[taskID]
	if ok {
		delete(s.alarms, taskID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel()
	if r, ok := s.sink.(Releaser); ok {
		r.Release(taskID)
	}
	s.logger.Info("alarm stopped", "task_id", taskID, "alerts", h.alerts.Load())
	return true
}

// StopAll stops every running alarm and waits for the loops to exit. No
// alarm can be started afterwards.
func (s *Signaler) StopAll() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	for _, id := range s.Active() {
		s.Stop(id)
	}
	s.wg.Wait()
}

// IsActive reports whether an alarm is running for taskID.
func (s *Signaler) IsActive(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.alarms[taskID]
	return ok
}

// Active returns the ids with a running alarm, sorted.
func (s *Signaler) Active() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.alarms))
	for id := range s.alarms {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Alerts returns how many notices the running alarm for taskID has emitted.
func (s *Signaler) Alerts(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.alarms[taskID]; ok {
		return int(h.alerts.Load())
	}
	return 0
}

// Warn emits the one-shot pre-alert for a task starting within lead. It
// registers no alarm state.
func (s *Signaler) Warn(ctx context.Context, task *core.Task, lead time.Duration) {
	notice := Notice{
		Kind:         KindWarning,
		TaskID:       task.ID,
		TaskName:     task.Name,
		AlertGap:     task.AlertGap(),
		MinutesUntil: int(lead.Round(time.Minute) / time.Minute),
		At:           s.now(),
	}
	s.logger.Warn("task starting soon", "task_id", task.ID, "task_name", task.Name, "minutes_until", notice.MinutesUntil)
	s.play(ctx, notice)
}

func (s *Signaler) run(ctx context.Context, taskID string, h *handle) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		alert := h.alerts.Add(1)
		notice := Notice{
			Kind:     KindAlarm,
			TaskID:   taskID,
			TaskName: h.name,
			Alert:    int(alert),
			AlertGap: h.gap,
			At:       s.now(),
		}
		s.logger.Warn("attention: complete verification", "task_id", taskID, "task_name", h.name, "alert", alert)
		s.play(ctx, notice)
	}
}

func (s *Signaler) play(ctx context.Context, notice Notice) {
	playCtx, cancel := context.WithTimeout(ctx, s.playTimeout)
	defer cancel()
	if err := s.sink.Play(playCtx, notice); err != nil && ctx.Err() == nil {
		s.logger.Warn("alarm sink failed", "task_id", notice.TaskID, "kind", notice.Kind, "err", err)
	}
}
