package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultScanInterval is how often the monitor loop looks for due tasks.
const DefaultScanInterval = 30 * time.Second

// Store abstracts the persistence layer used by the scheduler and workflow.
type Store interface {
	// Task operations
	InsertTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, status *TaskStatus) ([]*Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status TaskStatus, completedAt *time.Time) error
	DeleteTask(ctx context.Context, id string) error
	CountTasksByStatus(ctx context.Context) (map[TaskStatus]int, error)

	// Attempt operations
	InsertAttempt(ctx context.Context, attempt *Attempt) error
	ListAttempts(ctx context.Context, taskID string, limit, offset int) ([]*Attempt, error)
}

// Activator hands due tasks to the verification workflow.
type Activator interface {
	// Tracking reports whether a workflow instance already exists for the task.
	Tracking(taskID string) bool
	// Activate registers a workflow instance for a due task and drives it
	// through its time check.
	Activate(ctx context.Context, task *Task, now time.Time) error
	// Poll re-drives instances still waiting on their time check.
	Poll(ctx context.Context, now time.Time)
	// StopAll silences every alarm the activator still tracks.
	StopAll()
}

// Warner emits the one-shot pre-alert ahead of a task's start time.
type Warner interface {
	Warn(ctx context.Context, task *Task, lead time.Duration)
}

// Scheduler is the monitor loop that promotes pending tasks when their start minute arrives.
type Scheduler struct {
	store     Store
	activator Activator
	logger    *slog.Logger
	location  *time.Location
	interval  time.Duration
	now       func() time.Time

	warner      Warner
	warningLead time.Duration
	warnMu      sync.Mutex
	warned      map[string]string // taskID -> date of the last warning

	cron *cron.Cron
	ctx  context.Context
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithScanInterval overrides the monitor cadence.
func WithScanInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithClock injects the wall clock (primarily for tests).
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWarning enables the pre-alert lead minutes before each task starts.
func WithWarning(warner Warner, lead time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if warner != nil && lead > 0 {
			s.warner = warner
			s.warningLead = lead
		}
	}
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(store Store, activator Activator, logger *slog.Logger, location *time.Location, opts ...SchedulerOption) *Scheduler {
	if location == nil {
		location = time.Local
	}
	s := &Scheduler{
		store:     store,
		activator: activator,
		logger:    logger,
		location:  location,
		interval:  DefaultScanInterval,
		now:       time.Now,
		warned:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))
	s.cron = cron.New(
		cron.WithLocation(location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger)),
	)
	return s
}

// Start begins the scan loop. ctx is used for the store reads and activations the scans perform.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		if err := s.Scan(s.ctxOrBackground()); err != nil {
			s.logger.Error("scan tasks", "err", err)
		}
	}))
	s.cron.Start()
	s.logger.Info("scheduler started", "interval", s.interval, "location", s.location.String())
}

// Stop halts new scans. Once an in-flight scan has finished, every alarm the
// workflow still tracks is silenced and the returned context is done.
func (s *Scheduler) Stop() context.Context {
	running := s.cron.Stop()
	done, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		<-running.Done()
		s.activator.StopAll()
	}()
	return done
}

// Scan reads every task and activates the pending ones whose start minute is now.
func (s *Scheduler) Scan(ctx context.Context) error {
	tasks, err := s.store.ListTasks(ctx, nil)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	now := s.now().In(s.location)
	s.activator.Poll(ctx, now)

	clock := ClockString(now)
	warnClock := ""
	if s.warner != nil {
		warnClock = ClockString(now.Add(s.warningLead))
	}
	if s.warner != nil {
		s.pruneWarnings(tasks, now)
	}
	for _, task := range tasks {
		if task.Status != TaskStatusPending {
			continue
		}
		if warnClock != "" && task.StartTime == warnClock {
			s.warnOnce(ctx, task, now)
		}
		if task.StartTime != clock || s.activator.Tracking(task.ID) {
			continue
		}
		s.logger.Info("task due", "task_id", task.ID, "task_name", task.Name, "start_time", task.StartTime)
		if err := s.activator.Activate(ctx, task, now); err != nil {
			s.logger.Error("activate task", "task_id", task.ID, "err", err)
		}
	}
	return nil
}

func (s *Scheduler) warnOnce(ctx context.Context, task *Task, now time.Time) {
	day := now.Format(time.DateOnly)
	s.warnMu.Lock()
	if s.warned[task.ID] == day {
		s.warnMu.Unlock()
		return
	}
	s.warned[task.ID] = day
	s.warnMu.Unlock()
	s.warner.Warn(ctx, task, s.warningLead)
}

// pruneWarnings drops warning marks from earlier days and for tasks that are
// no longer pending.
func (s *Scheduler) pruneWarnings(tasks []*Task, now time.Time) {
	day := now.Format(time.DateOnly)
	pending := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		if task.Status == TaskStatusPending {
			pending[task.ID] = true
		}
	}
	s.warnMu.Lock()
	defer s.warnMu.Unlock()
	for id, warnedOn := range s.warned {
		if warnedOn != day || !pending[id] {
			delete(s.warned, id)
		}
	}
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
