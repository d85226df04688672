package scheduler

import (
	"sync"
)

// TriggerListener observes the firings of triggers it is registered for.
// An error from TriggerFired or VetoJobExecution aborts the firing; an
// error from TriggerComplete is logged and ignored.
type TriggerListener interface {
	Name() string
	// TriggerFired is called when the trigger has fired and before the
	// job executes.
	TriggerFired(jec *JobExecutionContext) error
	// VetoJobExecution may suppress this firing. A veto is control flow,
	// not a failure: the firing finalizes normally without running the
	// job.
	VetoJobExecution(jec *JobExecutionContext) (bool, error)
	// TriggerMisfired is called when the scheduler detects a misfire.
	TriggerMisfired(trigger Trigger)
	// TriggerComplete is called after the execution pass with the
	// instruction the trigger returned.
	TriggerComplete(jec *JobExecutionContext, instruction Instruction) error
}

// JobListener observes job executions. Errors from JobToBeExecuted abort
// the firing. An error from JobWasExecuted is logged and ends the firing
// before the trigger and the job store learn of the execution. An error
// from JobExecutionVetoed is logged and ignored.
type JobListener interface {
	Name() string
	JobToBeExecuted(jec *JobExecutionContext) error
	JobExecutionVetoed(jec *JobExecutionContext) error
	JobWasExecuted(jec *JobExecutionContext, jobErr *JobExecutionError) error
}

// SchedulerListener observes scheduler-level events. It is the only
// user-visible reporting channel for errors captured during a firing.
type SchedulerListener interface {
	SchedulerError(msg string, err error)
	TriggerFinalized(trigger Trigger)
}

// ListenerManager owns the registered listeners. Triggers and job details
// carry listener names only; the manager resolves names to callables, so
// trigger values stay trivially copyable and persistable. Global listeners
// observe every trigger or job and are notified before named ones, each
// group in insertion order.
type ListenerManager struct {
	mu sync.RWMutex

	globalTriggerListeners []TriggerListener
	triggerListeners       map[string]TriggerListener

	globalJobListeners []JobListener
	jobListeners       map[string]JobListener

	schedulerListeners []SchedulerListener
}

func NewListenerManager() *ListenerManager {
	return &ListenerManager{
		triggerListeners: make(map[string]TriggerListener),
		jobListeners:     make(map[string]JobListener),
	}
}

// AddTriggerListener registers a named trigger listener. Re-registering a
// name replaces the previous listener.
func (m *ListenerManager) AddTriggerListener(l TriggerListener) error {
	if l == nil || l.Name() == "" {
		return NewClientError("trigger listener must have a name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggerListeners[l.Name()] = l
	return nil
}

// RemoveTriggerListener unregisters a name, reporting whether it existed.
func (m *ListenerManager) RemoveTriggerListener(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.triggerListeners[name]
	delete(m.triggerListeners, name)
	return ok
}

// AddGlobalTriggerListener registers a listener observing every trigger.
func (m *ListenerManager) AddGlobalTriggerListener(l TriggerListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globalTriggerListeners = append(m.globalTriggerListeners, l)
}

// AddJobListener registers a named job listener.
func (m *ListenerManager) AddJobListener(l JobListener) error {
	if l == nil || l.Name() == "" {
		return NewClientError("job listener must have a name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobListeners[l.Name()] = l
	return nil
}

// RemoveJobListener unregisters a name, reporting whether it existed.
func (m *ListenerManager) RemoveJobListener(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobListeners[name]
	delete(m.jobListeners, name)
	return ok
}

// AddGlobalJobListener registers a listener observing every job.
func (m *ListenerManager) AddGlobalJobListener(l JobListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globalJobListeners = append(m.globalJobListeners, l)
}

// AddSchedulerListener registers a scheduler-level listener.
func (m *ListenerManager) AddSchedulerListener(l SchedulerListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedulerListeners = append(m.schedulerListeners, l)
}

// SchedulerListeners snapshots the scheduler listeners.
func (m *ListenerManager) SchedulerListeners() []SchedulerListener {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SchedulerListener, len(m.schedulerListeners))
	copy(out, m.schedulerListeners)
	return out
}

// ResolveTriggerListeners maps a trigger's listener-name list to
// callables, global listeners first, preserving the list's order. An
// unknown name is a client error.
func (m *ListenerManager) ResolveTriggerListeners(names []string) ([]TriggerListener, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TriggerListener, 0, len(m.globalTriggerListeners)+len(names))
	out = append(out, m.globalTriggerListeners...)
	for _, name := range names {
		l, ok := m.triggerListeners[name]
		if !ok {
			return nil, NewClientError("no trigger listener registered as '%s'", name)
		}
		out = append(out, l)
	}
	return out, nil
}

// ResolveJobListeners maps a job detail's listener-name list to callables,
// global listeners first.
func (m *ListenerManager) ResolveJobListeners(names []string) ([]JobListener, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]JobListener, 0, len(m.globalJobListeners)+len(names))
	out = append(out, m.globalJobListeners...)
	for _, name := range names {
		l, ok := m.jobListeners[name]
		if !ok {
			return nil, NewClientError("no job listener registered as '%s'", name)
		}
		out = append(out, l)
	}
	return out, nil
}
