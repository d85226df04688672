package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/chronolens/core/pkg/logger"
)

// DefaultStoreRetryInterval is the pause between job-store retries when a
// completed firing cannot be reported because of a persistence error.
const DefaultStoreRetryInterval = 5 * time.Second

// ExecutionNotifier is the slice of the scheduler façade a run shell
// drives: listener fan-out, store completion, and the scheduler-thread
// wake-up.
type ExecutionNotifier interface {
	SchedulerName() string
	JobFactory() JobFactory

	NotifyTriggerListenersFired(jec *JobExecutionContext) (vetoed bool, err error)
	NotifyJobListenersToBeExecuted(jec *JobExecutionContext) error
	NotifyJobListenersWasVetoed(jec *JobExecutionContext) error
	NotifyJobListenersWasExecuted(jec *JobExecutionContext, jobErr *JobExecutionError) error
	NotifyTriggerListenersComplete(jec *JobExecutionContext, instruction Instruction) error

	NotifySchedulerListenersError(msg string, err error)
	NotifySchedulerListenersFinalized(trigger Trigger)

	NotifyJobStoreJobComplete(jec *JobExecutionContext, trigger OperableTrigger, detail *JobDetail, instruction Instruction) error
	NotifySchedulerThread()

	IsShuttingDown() bool
}

// ShellFactory pools run shells so a busy scheduler does not allocate one
// per firing.
type ShellFactory interface {
	BorrowJobRunShell() *JobRunShell
	ReturnJobRunShell(shell *JobRunShell)
}

// ShellHooks are the extension points a persistent-store deployment uses
// to bracket an execution in a transaction. Both default to no-ops.
type ShellHooks struct {
	// Begin opens the unit of work for one execution pass.
	Begin func() error
	// Complete closes the unit of work. successfulExecution is false for
	// the non-terminal completion between RE_EXECUTE_JOB passes.
	Complete func(successfulExecution bool) error
}

// JobRunShell runs exactly one firing decision end to end on a worker
// goroutine: instantiate the job, notify listeners, execute, classify the
// outcome, and report the disposition to the job store. It may execute the
// job several times without releasing the worker when the trigger asks for
// an immediate re-execute.
//
// A shell is single-goroutine internally; it never lets an error escape
// Run. Everything user-visible goes through the scheduler-listener bus.
type JobRunShell struct {
	notifier ExecutionNotifier
	factory  ShellFactory
	log      *logger.Logger

	hooks              ShellHooks
	storeRetryInterval time.Duration

	jec *JobExecutionContext
	ctx context.Context

	mu        sync.Mutex
	shutdown  bool
	shutdownC chan struct{}
}

// NewJobRunShell builds a shell bound to its façade and owning factory.
func NewJobRunShell(notifier ExecutionNotifier, factory ShellFactory) *JobRunShell {
	return &JobRunShell{
		notifier:           notifier,
		factory:            factory,
		log:                logger.New("job-run-shell"),
		storeRetryInterval: DefaultStoreRetryInterval,
	}
}

// SetHooks installs the begin/complete extension points.
func (rs *JobRunShell) SetHooks(hooks ShellHooks) {
	rs.hooks = hooks
}

// SetStoreRetryInterval overrides the persistence-retry pause.
func (rs *JobRunShell) SetStoreRetryInterval(d time.Duration) {
	if d > 0 {
		rs.storeRetryInterval = d
	}
}

// Initialize creates the job instance for the fired bundle and builds a
// fresh execution context. A job-factory failure is reported to scheduler
// listeners and returned.
func (rs *JobRunShell) Initialize(ctx context.Context, bundle *FiredTriggerBundle) error {
	if ctx == nil {
		ctx = context.Background()
	}

	job, err := rs.notifier.JobFactory().NewJob(bundle)
	if err != nil {
		se := &SchedulerError{
			Kind: ErrKindClient,
			Msg:  fmt.Sprintf("An error occurred instantiating job to be executed. job='%s'", bundle.JobDetail.Key().FullName()),
			Err:  err,
		}
		rs.notifier.NotifySchedulerListenersError(se.Msg, se)
		return se
	}

	rs.ctx = ctx
	rs.jec = NewJobExecutionContext(rs.notifier, bundle, job)

	rs.mu.Lock()
	rs.shutdown = false
	rs.shutdownC = make(chan struct{})
	rs.mu.Unlock()
	return nil
}

// RequestShutdown asks a shell stuck in the persistence-retry loop to give
// up. An in-flight job execution is not interrupted.
func (rs *JobRunShell) RequestShutdown() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.shutdown {
		rs.shutdown = true
		if rs.shutdownC != nil {
			close(rs.shutdownC)
		}
	}
}

func (rs *JobRunShell) shutdownRequested() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.shutdown
}

// Passivate clears per-firing references before the shell goes back to its
// pool.
func (rs *JobRunShell) Passivate() {
	rs.jec = nil
	rs.ctx = nil
}

// Run drives the firing to completion. It returns true when the firing
// was fully reported (including a vetoed firing), false when it was
// aborted or shut down mid-retry. Errors never propagate out of Run.
func (rs *JobRunShell) Run() bool {
	defer func() {
		rs.notifier.NotifySchedulerThread()
		if rs.factory != nil {
			rs.factory.ReturnJobRunShell(rs)
		}
	}()

	jec := rs.jec
	if jec == nil {
		return false
	}
	trigger := jec.Trigger()
	detail := jec.JobDetail()
	log := rs.log.WithFireInstance(jec.FireInstanceID())

	for {
		if err := rs.begin(); err != nil {
			rs.notifier.NotifySchedulerListenersError(
				fmt.Sprintf("Error executing job '%s': couldn't begin execution", detail.Key().FullName()), err)
			return false
		}

		// Pre-notify: trigger listeners may veto, job listeners learn the
		// execution is imminent. An error from either aborts this firing.
		vetoed, err := rs.notifier.NotifyTriggerListenersFired(jec)
		if err != nil {
			rs.notifier.NotifySchedulerListenersError(
				fmt.Sprintf("Unable to notify TriggerListener(s) while firing trigger (Trigger and Job will NOT be fired!). trigger='%s' job='%s'",
					trigger.Key().FullName(), detail.Key().FullName()), err)
			rs.completeIgnoringErrors(false, log)
			return false
		}
		if vetoed {
			if err := rs.notifier.NotifyJobListenersWasVetoed(jec); err != nil {
				rs.notifier.NotifySchedulerListenersError(
					fmt.Sprintf("Unable to notify JobListener(s) of vetoed execution while firing trigger (Trigger and Job will NOT be fired!). trigger='%s' job='%s'",
						trigger.Key().FullName(), detail.Key().FullName()), err)
			}
			if err := rs.complete(true); err != nil {
				rs.notifier.NotifySchedulerListenersError(
					fmt.Sprintf("Error during veto of job '%s': couldn't finalize execution", detail.Key().FullName()), err)
				return false
			}
			return true
		}
		if err := rs.notifier.NotifyJobListenersToBeExecuted(jec); err != nil {
			rs.notifier.NotifySchedulerListenersError(
				fmt.Sprintf("Unable to notify JobListener(s) of Job to be executed: (Job will NOT be executed!). trigger='%s' job='%s'",
					trigger.Key().FullName(), detail.Key().FullName()), err)
			rs.completeIgnoringErrors(false, log)
			return false
		}

		// Execute the job, capturing its outcome.
		log.LogFireStart(trigger.Key().FullName(), detail.Key().FullName())
		start := time.Now()
		jobErr := rs.executeJob(jec)
		end := time.Now()
		jec.setJobRunTime(end.Sub(start))

		// Post-notify job listeners with the (possibly nil) job error.
		if err := rs.notifier.NotifyJobListenersWasExecuted(jec, jobErr); err != nil {
			rs.notifier.NotifySchedulerListenersError(
				fmt.Sprintf("Unable to notify JobListener(s) of Job that was executed: (firing aborted). trigger='%s' job='%s'",
					trigger.Key().FullName(), detail.Key().FullName()), err)
			return false
		}

		// Ask the trigger what to do next. A trigger bug is logged and
		// treated as NOOP.
		instruction := InstructionNoop
		instruction, err = rs.triggerExecutionComplete(trigger, jec, jobErr)
		if err != nil {
			rs.notifier.NotifySchedulerListenersError(
				fmt.Sprintf("Please report this error to the developers: trigger for job '%s' failed while updating its state", detail.Key().FullName()), err)
		}

		// Post-notify trigger listeners; failures here are logged and
		// ignored.
		if err := rs.notifier.NotifyTriggerListenersComplete(jec, instruction); err != nil {
			rs.notifier.NotifySchedulerListenersError(
				fmt.Sprintf("Unable to notify TriggerListener(s) of Job that was executed: (error will be ignored). trigger='%s' job='%s'",
					trigger.Key().FullName(), detail.Key().FullName()), err)
		}
		if trigger.NextFireTime().IsZero() {
			rs.notifier.NotifySchedulerListenersFinalized(trigger)
		}

		runTime, _ := jec.JobRunTime()
		log.LogFireComplete(trigger.Key().FullName(), detail.Key().FullName(),
			runTime, instruction.String(), jobErr != nil)

		if instruction == InstructionReExecuteJob {
			jec.incrementRefireCount()
			if err := rs.complete(false); err != nil {
				rs.notifier.NotifySchedulerListenersError(
					fmt.Sprintf("Error executing job '%s': couldn't finalize execution", detail.Key().FullName()), err)
				return false
			}
			continue
		}

		if err := rs.complete(true); err != nil {
			rs.notifier.NotifySchedulerListenersError(
				fmt.Sprintf("Error executing job '%s': couldn't finalize execution", detail.Key().FullName()), err)
			return false
		}

		if err := rs.notifier.NotifyJobStoreJobComplete(jec, trigger, detail, instruction); err != nil {
			if IsPersistence(err) {
				rs.notifier.NotifySchedulerListenersError(
					fmt.Sprintf("An error occurred while marking executed job complete. job='%s'", detail.Key().FullName()), err)
				return rs.completeTriggerRetryLoop(jec, trigger, detail, instruction)
			}
			log.Error().
				Err(err).
				Str("action", "store_notify_failed").
				Str("trigger", trigger.Key().FullName()).
				Msg("Job store rejected completed firing")
		}
		return true
	}
}

func (rs *JobRunShell) begin() error {
	if rs.hooks.Begin != nil {
		return rs.hooks.Begin()
	}
	return nil
}

func (rs *JobRunShell) complete(successfulExecution bool) error {
	if rs.hooks.Complete != nil {
		return rs.hooks.Complete(successfulExecution)
	}
	return nil
}

func (rs *JobRunShell) completeIgnoringErrors(successfulExecution bool, log *logger.Logger) {
	if err := rs.complete(successfulExecution); err != nil {
		log.Error().Err(err).Str("action", "complete_hook_failed").Msg("Completion hook failed during abort")
	}
}

// executeJob invokes the job exactly once, translating every failure mode
// into the domain JobExecutionError the trigger understands. A non-domain
// error or a panic is wrapped, reported to scheduler listeners, and
// converted with refire=false.
func (rs *JobRunShell) executeJob(jec *JobExecutionContext) *JobExecutionError {
	var execErr error
	panicErr := capturePanic(func() {
		execErr = jec.JobInstance().Execute(rs.ctx, jec)
	})

	if panicErr != nil {
		execErr = panicErr
	}
	if execErr == nil {
		return nil
	}

	var jobErr *JobExecutionError
	if errors.As(execErr, &jobErr) && panicErr == nil {
		return jobErr
	}

	se := &SchedulerError{
		Kind: ErrKindJobExecutionThrew,
		Msg:  fmt.Sprintf("Job %s threw an unhandled Exception", jec.JobDetail().Key().FullName()),
		Err:  execErr,
	}
	rs.notifier.NotifySchedulerListenersError(
		fmt.Sprintf("Job '%s' threw an exception", jec.JobDetail().Key().FullName()), se)
	return NewJobExecutionError(se)
}

// triggerExecutionComplete shields the shell from trigger bugs: a panic or
// error inside ExecutionComplete leaves the instruction at NOOP.
func (rs *JobRunShell) triggerExecutionComplete(trigger OperableTrigger, jec *JobExecutionContext, jobErr *JobExecutionError) (Instruction, error) {
	instruction := InstructionNoop
	panicErr := capturePanic(func() {
		instruction = trigger.ExecutionComplete(jec, jobErr)
	})
	if panicErr != nil {
		return InstructionNoop, &SchedulerError{
			Kind: ErrKindTriggerThrew,
			Msg:  fmt.Sprintf("Trigger '%s' threw in ExecutionComplete", trigger.Key().FullName()),
			Err:  panicErr,
		}
	}
	return instruction, nil
}

// completeTriggerRetryLoop keeps trying to report the completed firing to
// the job store. It retries indefinitely on failure, pausing
// storeRetryInterval between attempts, and gives up only when shutdown is
// requested. Returns true once a retry succeeds.
func (rs *JobRunShell) completeTriggerRetryLoop(jec *JobExecutionContext, trigger OperableTrigger, detail *JobDetail, instruction Instruction) bool {
	rs.mu.Lock()
	shutdownC := rs.shutdownC
	rs.mu.Unlock()

	for !rs.shutdownRequested() && !rs.notifier.IsShuttingDown() {
		select {
		case <-shutdownC:
			return false
		case <-time.After(rs.storeRetryInterval):
		}

		err := rs.notifier.NotifyJobStoreJobComplete(jec, trigger, detail, instruction)
		if err == nil {
			return true
		}
		rs.notifier.NotifySchedulerListenersError(
			fmt.Sprintf("An error occurred while marking executed job complete. job='%s'", detail.Key().FullName()), err)
	}
	return false
}

// PanicError wraps a panic value with the stack captured at the point of
// panic, so listeners see where a job actually blew up rather than where
// the shell recovered it.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// capturePanic runs fn and converts a panic into a *PanicError. It returns
// nil when fn completes normally.
func capturePanic(fn func()) error {
	var panicErr *PanicError
	func() {
		defer func() {
			if r := recover(); r != nil {
				const size = 64 << 10
				buf := make([]byte, size)
				buf = buf[:runtime.Stack(buf, false)]
				panicErr = &PanicError{Value: r, Stack: buf}
			}
		}()
		fn()
	}()
	if panicErr != nil {
		return panicErr
	}
	return nil
}

// StdShellFactory is a free-list pool of run shells.
type StdShellFactory struct {
	mu       sync.Mutex
	notifier ExecutionNotifier
	free     []*JobRunShell

	retryInterval time.Duration
	hooks         ShellHooks
}

// NewStdShellFactory builds a pool creating shells bound to the notifier.
func NewStdShellFactory(notifier ExecutionNotifier) *StdShellFactory {
	return &StdShellFactory{notifier: notifier}
}

// SetStoreRetryInterval configures the retry pause for shells the factory
// creates.
func (f *StdShellFactory) SetStoreRetryInterval(d time.Duration) {
	f.retryInterval = d
}

// SetHooks configures the begin/complete hooks for shells the factory
// creates.
func (f *StdShellFactory) SetHooks(hooks ShellHooks) {
	f.hooks = hooks
}

// BorrowJobRunShell hands out a pooled shell, creating one when the pool
// is empty.
func (f *StdShellFactory) BorrowJobRunShell() *JobRunShell {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := len(f.free); n > 0 {
		shell := f.free[n-1]
		f.free = f.free[:n-1]
		return shell
	}
	shell := NewJobRunShell(f.notifier, f)
	shell.SetHooks(f.hooks)
	if f.retryInterval > 0 {
		shell.SetStoreRetryInterval(f.retryInterval)
	}
	return shell
}

// ReturnJobRunShell passivates the shell and puts it back on the free
// list.
func (f *StdShellFactory) ReturnJobRunShell(shell *JobRunShell) {
	shell.Passivate()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.free = append(f.free, shell)
}
