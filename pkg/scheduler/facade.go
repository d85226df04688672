package scheduler

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sony/gobreaker"

	"github.com/chronolens/core/internal/config"
	"github.com/chronolens/core/pkg/logger"
)

// JobStore is the slice of the job store the façade drives on behalf of a
// run shell: applying a completed firing's instruction. Store failures
// that should be retried are persistence-kind scheduler errors.
type JobStore interface {
	TriggeredJobComplete(trigger OperableTrigger, detail *JobDetail, instruction Instruction) error
}

// SchedulerFacade is the scheduler-side counterpart of the run shell: the
// listener notification bus, the store-complete notifier, and the
// scheduler-thread wake-up. One façade serves every shell of a scheduler
// instance.
//
// Completion writes to the job store pass through a circuit breaker so a
// flapping store is not hammered by every finishing worker at once; an
// open breaker surfaces as a persistence error, which the shell's retry
// loop already handles.
type SchedulerFacade struct {
	name       string
	store      JobStore
	jobFactory JobFactory
	listeners  *ListenerManager

	breaker *gobreaker.CircuitBreaker
	signal  chan struct{}

	shuttingDown atomic.Bool
	log          *logger.Logger
}

// NewSchedulerFacade wires the façade from configuration, the job store,
// and the job factory. A nil jobFactory falls back to StdJobFactory.
func NewSchedulerFacade(cfg config.SchedulerConfig, store JobStore, jobFactory JobFactory) *SchedulerFacade {
	if jobFactory == nil {
		jobFactory = StdJobFactory{}
	}

	threshold := cfg.BreakerFailureThreshold
	if threshold <= 0 {
		threshold = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    cfg.Name + "-job-store",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
	})

	return &SchedulerFacade{
		name:       cfg.Name,
		store:      store,
		jobFactory: jobFactory,
		listeners:  NewListenerManager(),
		breaker:    breaker,
		signal:     make(chan struct{}, 1),
		log:        logger.New("scheduler-facade"),
	}
}

func (f *SchedulerFacade) SchedulerName() string { return f.name }

func (f *SchedulerFacade) JobFactory() JobFactory { return f.jobFactory }

// ListenerManager exposes listener registration.
func (f *SchedulerFacade) ListenerManager() *ListenerManager { return f.listeners }

// Shutdown marks the scheduler as stopping; retrying shells observe it and
// give up.
func (f *SchedulerFacade) Shutdown() {
	f.shuttingDown.Store(true)
}

func (f *SchedulerFacade) IsShuttingDown() bool {
	return f.shuttingDown.Load()
}

// Signal is the wake-up channel the scheduler thread selects on; a
// completed firing pulses it so the thread re-evaluates the due queue.
func (f *SchedulerFacade) Signal() <-chan struct{} { return f.signal }

// NotifySchedulerThread pulses the wake-up channel without blocking.
func (f *SchedulerFacade) NotifySchedulerThread() {
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// NotifyTriggerListenersFired tells every resolved trigger listener the
// trigger fired and collects veto votes. Listeners run in order: globals
// first, then the trigger's named listeners in insertion order. The first
// listener error aborts the firing.
func (f *SchedulerFacade) NotifyTriggerListenersFired(jec *JobExecutionContext) (bool, error) {
	resolved, err := f.listeners.ResolveTriggerListeners(jec.Trigger().ListenerNames())
	if err != nil {
		return false, err
	}

	vetoed := false
	for _, l := range resolved {
		if err := callTriggerFired(l, jec); err != nil {
			return false, fmt.Errorf("trigger listener '%s' failed: %w", l.Name(), err)
		}
		v, err := callVetoJobExecution(l, jec)
		if err != nil {
			return false, fmt.Errorf("trigger listener '%s' failed: %w", l.Name(), err)
		}
		vetoed = vetoed || v
	}
	return vetoed, nil
}

// NotifyTriggerListenersComplete tells every resolved trigger listener the
// instruction the trigger returned.
func (f *SchedulerFacade) NotifyTriggerListenersComplete(jec *JobExecutionContext, instruction Instruction) error {
	resolved, err := f.listeners.ResolveTriggerListeners(jec.Trigger().ListenerNames())
	if err != nil {
		return err
	}
	for _, l := range resolved {
		if err := callTriggerComplete(l, jec, instruction); err != nil {
			return fmt.Errorf("trigger listener '%s' failed: %w", l.Name(), err)
		}
	}
	return nil
}

// NotifyJobListenersToBeExecuted runs the pre-execution job callbacks; an
// error aborts the firing.
func (f *SchedulerFacade) NotifyJobListenersToBeExecuted(jec *JobExecutionContext) error {
	return f.eachJobListener(jec, func(l JobListener) error {
		return callJobListener(func() error { return l.JobToBeExecuted(jec) })
	})
}

// NotifyJobListenersWasVetoed tells job listeners the firing was vetoed.
func (f *SchedulerFacade) NotifyJobListenersWasVetoed(jec *JobExecutionContext) error {
	return f.eachJobListener(jec, func(l JobListener) error {
		return callJobListener(func() error { return l.JobExecutionVetoed(jec) })
	})
}

// NotifyJobListenersWasExecuted runs the post-execution job callbacks with
// the (possibly nil) job error.
func (f *SchedulerFacade) NotifyJobListenersWasExecuted(jec *JobExecutionContext, jobErr *JobExecutionError) error {
	return f.eachJobListener(jec, func(l JobListener) error {
		return callJobListener(func() error { return l.JobWasExecuted(jec, jobErr) })
	})
}

func (f *SchedulerFacade) eachJobListener(jec *JobExecutionContext, fn func(JobListener) error) error {
	resolved, err := f.listeners.ResolveJobListeners(jec.JobDetail().ListenerNames())
	if err != nil {
		return err
	}
	for _, l := range resolved {
		if err := fn(l); err != nil {
			return fmt.Errorf("job listener '%s' failed: %w", l.Name(), err)
		}
	}
	return nil
}

// NotifySchedulerListenersError is the user-visible error channel: every
// captured error of a firing sequence ends up here. A panicking listener
// is logged and skipped.
func (f *SchedulerFacade) NotifySchedulerListenersError(msg string, err error) {
	f.log.Error().
		Err(err).
		Str("action", "scheduler_error").
		Msg(msg)
	for _, l := range f.listeners.SchedulerListeners() {
		l := l
		if pErr := capturePanic(func() { l.SchedulerError(msg, err) }); pErr != nil {
			f.log.Error().
				Err(pErr).
				Str("action", "scheduler_listener_panicked").
				Msg("SchedulerListener panicked while handling an error")
		}
	}
}

// NotifySchedulerListenersFinalized announces a trigger with no remaining
// fire times.
func (f *SchedulerFacade) NotifySchedulerListenersFinalized(trigger Trigger) {
	for _, l := range f.listeners.SchedulerListeners() {
		l := l
		if pErr := capturePanic(func() { l.TriggerFinalized(trigger) }); pErr != nil {
			f.log.Error().
				Err(pErr).
				Str("action", "scheduler_listener_panicked").
				Str("trigger", trigger.Key().FullName()).
				Msg("SchedulerListener panicked while handling finalization")
		}
	}
}

// NotifyJobStoreJobComplete reports a completed firing and its instruction
// to the job store through the circuit breaker. An open breaker is a
// persistence error: the shell retries it like any other store outage.
func (f *SchedulerFacade) NotifyJobStoreJobComplete(jec *JobExecutionContext, trigger OperableTrigger, detail *JobDetail, instruction Instruction) error {
	_, err := f.breaker.Execute(func() (any, error) {
		return nil, f.store.TriggeredJobComplete(trigger, detail, instruction)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return NewPersistenceError("job store completion writes suspended", err)
		}
		return err
	}
	return nil
}

// Listener invocations are panic-captured so a misbehaving listener is an
// error, never a crashed worker.

func callTriggerFired(l TriggerListener, jec *JobExecutionContext) error {
	var err error
	if pErr := capturePanic(func() { err = l.TriggerFired(jec) }); pErr != nil {
		return pErr
	}
	return err
}

func callVetoJobExecution(l TriggerListener, jec *JobExecutionContext) (bool, error) {
	var vetoed bool
	var err error
	if pErr := capturePanic(func() { vetoed, err = l.VetoJobExecution(jec) }); pErr != nil {
		return false, pErr
	}
	return vetoed, err
}

func callTriggerComplete(l TriggerListener, jec *JobExecutionContext, instruction Instruction) error {
	var err error
	if pErr := capturePanic(func() { err = l.TriggerComplete(jec, instruction) }); pErr != nil {
		return pErr
	}
	return err
}

func callJobListener(fn func() error) error {
	var err error
	if pErr := capturePanic(func() { err = fn() }); pErr != nil {
		return pErr
	}
	return err
}
