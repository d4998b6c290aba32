// Package workflow drives each task from activation through evidence
// judgment to completion.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"taskproof/internal/alarm"
	"taskproof/internal/core"
	"taskproof/internal/oracle"
)

const (
	DefaultOracleTimeout = 60 * time.Second
	DefaultMaxImageBytes = 10 << 20
)

var (
	// ErrTaskNotActive is returned when evidence arrives for a task that is not awaiting it.
	ErrTaskNotActive = errors.New("task is not active")
	// ErrJudgeInProgress is returned when a task already has a judgment running.
	ErrJudgeInProgress = errors.New("verification already in progress for task")
	// ErrStopped is returned once the engine has been shut down.
	ErrStopped = errors.New("workflow engine stopped")
)

// Alarms is the subset of the alarm signaler the engine drives.
type Alarms interface {
	Start(taskID, taskName string, opts ...alarm.StartOption) bool
	Stop(taskID string) bool
	StopAll()
	Active() []string
}

// Engine owns the in-memory workflow instances and coordinates the store,
// the alarm signaler and the oracle for them.
type Engine struct {
	store  core.Store
	alarms Alarms
	oracle oracle.Oracle
	logger *slog.Logger

	now           func() time.Time
	location      *time.Location
	oracleTimeout time.Duration
	maxImageBytes int

	mu        sync.Mutex
	instances map[string]*instance
	closed    bool
}

type instance struct {
	task *core.Task

	mu       sync.Mutex
	step     Step
	evidence []byte
	last     *oracle.Judgment
	// removed is set once the task is deleted; the instance must not start an alarm after that.
	removed bool

	busy atomic.Bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock injects the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation sets the zone used for the status clock.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithOracleTimeout bounds each oracle call.
func WithOracleTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.oracleTimeout = timeout
		}
	}
}

// WithMaxImageBytes caps accepted evidence size.
func WithMaxImageBytes(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.maxImageBytes = limit
		}
	}
}

// NewEngine constructs an engine with the given collaborators.
func NewEngine(store core.Store, alarms Alarms, judge oracle.Oracle, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		alarms:        alarms,
		oracle:        judge,
		logger:        logger,
		now:           time.Now,
		location:      time.Local,
		oracleTimeout: DefaultOracleTimeout,
		maxImageBytes: DefaultMaxImageBytes,
		instances:     make(map[string]*instance),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateTask validates input and stores a new pending task.
func (e *Engine) CreateTask(ctx context.Context, in core.TaskInput) (*core.Task, error) {
	in, err := in.Validate()
	if err != nil {
		return nil, err
	}
	task := &core.Task{
		ID:              core.NewID(),
		Name:            in.Name,
		StartTime:       in.StartTime,
		DurationMinutes: in.DurationMinutes,
		AlertGapMinutes: in.AlertGapMinutes,
		Instructions:    in.Instructions,
		Status:          core.TaskStatusPending,
		CreatedAt:       e.now().UTC(),
	}
	if err := e.store.InsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	e.logger.Info("task created", "task_id", task.ID, "task_name", task.Name, "start_time", task.StartTime)
	return task, nil
}

// GetTask returns the stored task.
func (e *Engine) GetTask(ctx context.Context, id string) (*core.Task, error) {
	return e.store.GetTask(ctx, id)
}

// ListTasks returns stored tasks ordered by start time, optionally filtered by status.
func (e *Engine) ListTasks(ctx context.Context, status *core.TaskStatus) ([]*core.Task, error) {
	return e.store.ListTasks(ctx, status)
}

// ListAttempts returns a task's attempts, newest first.
func (e *Engine) ListAttempts(ctx context.Context, taskID string, limit, offset int) ([]*core.Attempt, error) {
	if _, err := e.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.store.ListAttempts(ctx, taskID, limit, offset)
}

// DeleteTask removes the task and its attempts. Only after the store delete
// succeeds is the workflow instance dropped and the alarm stopped.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	if err := e.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	e.mu.Lock()
	inst := e.instances[id]
	delete(e.instances, id)
	e.mu.Unlock()
	if inst != nil {
		// Waits out an activation that is between its status write and alarm start.
		inst.mu.Lock()
		inst.removed = true
		inst.mu.Unlock()
	}
	e.alarms.Stop(id)
	e.logger.Info("task deleted", "task_id", id)
	return nil
}

// Tracking reports whether a workflow instance exists for taskID.
func (e *Engine) Tracking(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.instances[taskID]
	return ok
}

// Step returns the current step of the instance for taskID.
func (e *Engine) Step(taskID string) (Step, bool) {
	e.mu.Lock()
	inst, ok := e.instances[taskID]
	e.mu.Unlock()
	if !ok {
		return StepEnd, false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.step, true
}

// LastJudgment returns the most recent judgment of the tracked instance for taskID.
func (e *Engine) LastJudgment(taskID string) (oracle.Judgment, bool) {
	e.mu.Lock()
	inst, ok := e.instances[taskID]
	e.mu.Unlock()
	if !ok {
		return oracle.Judgment{}, false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.last == nil {
		return oracle.Judgment{}, false
	}
	return *inst.last, true
}

// Activate registers a check-time instance for task and runs its time check.
// A task that is already tracked is left alone.
func (e *Engine) Activate(ctx context.Context, task *core.Task, now time.Time) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrStopped
	}
	if _, ok := e.instances[task.ID]; ok {
		e.mu.Unlock()
		return nil
	}
	snapshot := *task
	inst := &instance{task: &snapshot, step: StepCheckTime}
	e.instances[task.ID] = inst
	e.mu.Unlock()

	return e.checkTime(ctx, inst, now)
}

// Poll re-runs the time check for instances still at check-time.
func (e *Engine) Poll(ctx context.Context, now time.Time) {
	e.mu.Lock()
	pending := make([]*instance, 0, len(e.instances))
	for _, inst := range e.instances {
		pending = append(pending, inst)
	}
	e.mu.Unlock()

	for _, inst := range pending {
		if err := e.checkTime(ctx, inst, now); err != nil {
			e.logger.Error("activate task", "task_id", inst.task.ID, "err", err)
		}
	}
}

// StopAll silences the alarms of every tracked task and waits for the loops
// to exit. The engine activates nothing afterwards.
func (e *Engine) StopAll() {
	e.mu.Lock()
	e.closed = true
	ids := make([]string, 0, len(e.instances))
	for id := range e.instances {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		e.alarms.Stop(id)
	}
	e.alarms.StopAll()
}

func (e *Engine) checkTime(ctx context.Context, inst *instance, now time.Time) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.step != StepCheckTime || inst.removed || e.stopped() {
		return nil
	}
	task := inst.task
	event := EventTimeNotMatched
	if task.StartsAt(now) {
		event = EventTimeMatched
	}
	next, err := Transition(inst.step, event)
	if errors.Is(err, ErrNoTransition) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := e.store.UpdateTaskStatus(ctx, task.ID, core.TaskStatusActive, nil); err != nil {
		e.forget(task.ID, inst)
		return fmt.Errorf("mark task active: %w", err)
	}
	inst.step = next
	e.alarms.Start(task.ID, task.Name, alarm.WithAlertGap(task.AlertGap()))
	next, err = Transition(inst.step, EventAlarmStarted)
	if err != nil {
		return err
	}
	inst.step = next
	e.logger.Info("task activated", "task_id", task.ID, "task_name", task.Name, "step", inst.step)
	return nil
}

// Verification is the outcome of one evidence submission.
type Verification struct {
	Attempt    *core.Attempt
	Judgment   oracle.Judgment
	TaskStatus core.TaskStatus
}

// SubmitEvidence judges image against the task's instructions and records
// the attempt. A passing judgment completes the task and stops its alarm; a
// failing one leaves the task active for another submission. Oracle errors
// are recorded as failed attempts with zero confidence.
func (e *Engine) SubmitEvidence(ctx context.Context, taskID string, image []byte) (*Verification, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != core.TaskStatusActive {
		return nil, fmt.Errorf("%w: status is %s", ErrTaskNotActive, task.Status)
	}
	if len(image) == 0 {
		return nil, &core.ValidationError{Field: "image", Message: "evidence image is required"}
	}
	if len(image) > e.maxImageBytes {
		return nil, &core.ValidationError{Field: "image", Message: fmt.Sprintf("evidence image exceeds %d bytes", e.maxImageBytes)}
	}

	inst, err := e.instanceFor(ctx, task)
	if err != nil {
		return nil, err
	}
	if !inst.busy.CompareAndSwap(false, true) {
		return nil, ErrJudgeInProgress
	}
	defer inst.busy.Store(false)

	inst.mu.Lock()
	if inst.removed {
		inst.mu.Unlock()
		return nil, core.ErrTaskNotFound
	}
	next, err := Transition(inst.step, EventEvidenceReceived)
	if err != nil {
		step := inst.step
		inst.mu.Unlock()
		if step == StepEnd {
			return nil, fmt.Errorf("%w: already completed", ErrTaskNotActive)
		}
		return nil, err
	}
	inst.step = next
	inst.evidence = image
	inst.mu.Unlock()

	judgeCtx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
	judgment, judgeErr := e.oracle.Judge(judgeCtx, image, task.Instructions)
	cancel()
	if judgeErr != nil {
		e.logger.Warn("oracle failed", "task_id", taskID, "err", judgeErr)
		judgment = oracle.Failed(judgeErr)
	}

	// Persist even if the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.removed {
		return nil, core.ErrTaskNotFound
	}

	attempt := &core.Attempt{
		ID:         core.NewID(),
		TaskID:     taskID,
		Image:      image,
		Success:    judgment.Success,
		Reasoning:  judgment.Reasoning,
		Confidence: judgment.Confidence,
		CreatedAt:  e.now().UTC(),
	}
	if err := e.store.InsertAttempt(persistCtx, attempt); err != nil {
		inst.step = StepAwaitEvidence
		inst.evidence = nil
		if _, getErr := e.store.GetTask(persistCtx, taskID); errors.Is(getErr, core.ErrTaskNotFound) {
			inst.removed = true
			e.alarms.Stop(taskID)
			e.forget(taskID, inst)
			e.logger.Warn("task deleted during verification", "task_id", taskID)
			return nil, core.ErrTaskNotFound
		}
		return nil, fmt.Errorf("record attempt: %w", err)
	}
	if inst.step, err = Transition(inst.step, EventAttemptRecorded); err != nil {
		return nil, err
	}
	inst.last = &judgment
	e.logger.Info("attempt recorded",
		"task_id", taskID,
		"attempt_id", attempt.ID,
		"success", judgment.Success,
		"confidence", judgment.Confidence,
	)

	result := &Verification{Attempt: attempt, Judgment: judgment, TaskStatus: core.TaskStatusActive}
	if !judgment.Success {
		inst.evidence = nil
		inst.step, _ = Transition(inst.step, EventFailed)
		return result, nil
	}

	completedAt := e.now().UTC()
	if err := e.store.UpdateTaskStatus(persistCtx, taskID, core.TaskStatusCompleted, &completedAt); err != nil {
		inst.step = StepAwaitEvidence
		inst.evidence = nil
		return nil, fmt.Errorf("complete task: %w", err)
	}
	inst.evidence = nil
	inst.step, _ = Transition(inst.step, EventPassed)
	e.alarms.Stop(taskID)
	e.forget(taskID, inst)
	e.logger.Info("task completed", "task_id", taskID, "task_name", task.Name)
	result.TaskStatus = core.TaskStatusCompleted
	return result, nil
}

// instanceFor returns the tracked instance for an active task, rebuilding it
// at await-evidence (and restarting its alarm) when the process lost it.
func (e *Engine) instanceFor(ctx context.Context, task *core.Task) (*instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrStopped
	}
	if inst, ok := e.instances[task.ID]; ok {
		return inst, nil
	}
	current, err := e.store.GetTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	if current.Status != core.TaskStatusActive {
		return nil, fmt.Errorf("%w: status is %s", ErrTaskNotActive, current.Status)
	}
	inst := &instance{task: current, step: StepAwaitEvidence}
	e.instances[task.ID] = inst
	e.alarms.Start(current.ID, current.Name, alarm.WithAlertGap(current.AlertGap()))
	e.logger.Info("workflow instance rebuilt", "task_id", current.ID, "step", inst.step)
	return inst, nil
}

func (e *Engine) stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) forget(taskID string, inst *instance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.instances[taskID] == inst {
		delete(e.instances, taskID)
	}
}

// Summary is a point-in-time view of the engine.
type Summary struct {
	CurrentTime      string
	Total            int
	Pending          int
	Active           int
	Completed        int
	ActiveAlarms     []string
	Tracked          int
	OracleConfigured bool
}

// Status summarizes stored tasks and running alarms.
func (e *Engine) Status(ctx context.Context) (*Summary, error) {
	counts, err := e.store.CountTasksByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	_, mock := e.oracle.(*oracle.Mock)
	summary := &Summary{
		CurrentTime:      core.ClockString(e.now().In(e.location)),
		Pending:          counts[core.TaskStatusPending],
		Active:           counts[core.TaskStatusActive],
		Completed:        counts[core.TaskStatusCompleted],
		ActiveAlarms:     e.alarms.Active(),
		OracleConfigured: e.oracle != nil && !mock,
	}
	for _, n := range counts {
		summary.Total += n
	}
	sort.Strings(summary.ActiveAlarms)
	e.mu.Lock()
	summary.Tracked = len(e.instances)
	e.mu.Unlock()
	return summary, nil
}

var _ core.Activator = (*Engine)(nil)
