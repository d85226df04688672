package scheduler

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is wrapped by trigger and job-detail mutators when a
// caller passes a value the contract rejects. It never reaches the run
// shell; mutators fail synchronously.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrKind classifies a SchedulerError.
type ErrKind int

const (
	// ErrKindClient is a caller mistake, e.g. scheduling an unvalidated
	// trigger or resolving an unregistered listener name.
	ErrKindClient ErrKind = iota
	// ErrKindJobExecutionThrew wraps a non-domain error or panic escaping
	// a job's Execute.
	ErrKindJobExecutionThrew
	// ErrKindTriggerThrew wraps an error or panic escaping a trigger's
	// ExecutionComplete. It indicates a bug in the trigger implementation.
	ErrKindTriggerThrew
	// ErrKindPersistence is a job store write failure. The shell retries
	// these until shutdown.
	ErrKindPersistence
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindClient:
		return "client"
	case ErrKindJobExecutionThrew:
		return "JOB_EXECUTION_THREW_EXCEPTION"
	case ErrKindTriggerThrew:
		return "trigger-threw"
	case ErrKindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// SchedulerError is the error type crossing the core's seams. Everything
// the run shell reports through the scheduler-listener bus is one of these.
type SchedulerError struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func (e *SchedulerError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *SchedulerError) Unwrap() error {
	return e.Err
}

// NewClientError builds a client-kind scheduler error.
func NewClientError(format string, args ...any) *SchedulerError {
	return &SchedulerError{Kind: ErrKindClient, Msg: fmt.Sprintf(format, args...)}
}

// NewPersistenceError wraps a job store failure.
func NewPersistenceError(msg string, err error) *SchedulerError {
	return &SchedulerError{Kind: ErrKindPersistence, Msg: msg, Err: err}
}

// IsPersistence reports whether err is (or wraps) a persistence-kind
// scheduler error.
func IsPersistence(err error) bool {
	var se *SchedulerError
	return errors.As(err, &se) && se.Kind == ErrKindPersistence
}

// JobExecutionError is the domain error a job may return from Execute to
// steer its triggers. Any other error (or panic) escaping a job is wrapped
// in a SchedulerError and converted to one of these with all flags off.
type JobExecutionError struct {
	Err error

	refireImmediately     bool
	unscheduleTrigger     bool
	unscheduleAllTriggers bool
}

// NewJobExecutionError wraps cause as a job execution error with no
// rescheduling directives set.
func NewJobExecutionError(cause error) *JobExecutionError {
	return &JobExecutionError{Err: cause}
}

func (e *JobExecutionError) Error() string {
	if e.Err != nil {
		return "job execution failed: " + e.Err.Error()
	}
	return "job execution failed"
}

func (e *JobExecutionError) Unwrap() error {
	return e.Err
}

// SetRefireImmediately asks the trigger to fire the job again at once,
// on the same worker, without releasing it.
func (e *JobExecutionError) SetRefireImmediately(v bool) {
	e.refireImmediately = v
}

// RefireImmediately reports whether the job asked for an immediate refire.
func (e *JobExecutionError) RefireImmediately() bool {
	return e.refireImmediately
}

// SetUnscheduleFiringTrigger asks that the trigger which fired this
// execution be marked COMPLETE.
func (e *JobExecutionError) SetUnscheduleFiringTrigger(v bool) {
	e.unscheduleTrigger = v
}

// UnscheduleFiringTrigger reports whether the firing trigger should
// complete.
func (e *JobExecutionError) UnscheduleFiringTrigger() bool {
	return e.unscheduleTrigger
}

// SetUnscheduleAllTriggers asks that every trigger of the job be marked
// COMPLETE.
func (e *JobExecutionError) SetUnscheduleAllTriggers(v bool) {
	e.unscheduleAllTriggers = v
}

// UnscheduleAllTriggers reports whether all of the job's triggers should
// complete.
func (e *JobExecutionError) UnscheduleAllTriggers() bool {
	return e.unscheduleAllTriggers
}
