package workflow

import (
	"errors"
	"fmt"
)

// Step is a node of the per-task verification state machine.
type Step int

const (
	StepCheckTime Step = iota
	StepTriggerAlarm
	StepAwaitEvidence
	StepJudge
	StepResolve
	StepEnd
)

func (s Step) String() string {
	switch s {
	case StepCheckTime:
		return "check-time"
	case StepTriggerAlarm:
		return "trigger-alarm"
	case StepAwaitEvidence:
		return "await-evidence"
	case StepJudge:
		return "judge"
	case StepResolve:
		return "resolve"
	case StepEnd:
		return "end"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Event is an input to the state machine.
type Event int

const (
	EventTimeMatched Event = iota
	EventTimeNotMatched
	EventAlarmStarted
	EventEvidenceReceived
	EventAttemptRecorded
	EventPassed
	EventFailed
)

func (e Event) String() string {
	switch e {
	case EventTimeMatched:
		return "time-matched"
	case EventTimeNotMatched:
		return "time-not-matched"
	case EventAlarmStarted:
		return "alarm-started"
	case EventEvidenceReceived:
		return "evidence-received"
	case EventAttemptRecorded:
		return "attempt-recorded"
	case EventPassed:
		return "passed"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

var (
	// ErrInvalidTransition is returned for an event the current step does not accept.
	ErrInvalidTransition = errors.New("invalid workflow transition")
	// ErrNoTransition means the step stays put and should be re-driven later.
	ErrNoTransition = errors.New("no transition")
)

// Transition returns the step that follows from applying event at step.
// A check-time instance whose minute has not arrived yields ErrNoTransition.
func Transition(step Step, event Event) (Step, error) {
	switch step {
	case StepCheckTime:
		switch event {
		case EventTimeMatched:
			return StepTriggerAlarm, nil
		case EventTimeNotMatched:
			return StepCheckTime, ErrNoTransition
		}
	case StepTriggerAlarm:
		if event == EventAlarmStarted {
			return StepAwaitEvidence, nil
		}
	case StepAwaitEvidence:
		if event == EventEvidenceReceived {
			return StepJudge, nil
		}
	case StepJudge:
		if event == EventAttemptRecorded {
			return StepResolve, nil
		}
	case StepResolve:
		switch event {
		case EventPassed:
			return StepEnd, nil
		case EventFailed:
			return StepAwaitEvidence, nil
		}
	}
	return step, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, step)
}
