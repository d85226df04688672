package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chronolens/core/pkg/logger"
	"github.com/chronolens/core/pkg/scheduler"
)

// JobStore is the persistence contract the scheduler core consumes:
// trigger/job registration, state transitions, fired-bundle handout, and
// the completion signal the run shell reports through the façade.
type JobStore interface {
	scheduler.JobStore

	StoreJob(detail *scheduler.JobDetail, replace bool) error
	StoreTrigger(trigger scheduler.OperableTrigger, replace bool) error
	RetrieveJob(key scheduler.Key) *scheduler.JobDetail
	RetrieveTrigger(key scheduler.Key) scheduler.OperableTrigger
	RemoveTrigger(key scheduler.Key) bool

	TriggerState(key scheduler.Key) scheduler.TriggerState
	PauseTrigger(key scheduler.Key) error
	ResumeTrigger(key scheduler.Key) error

	AddCalendar(name string, cal scheduler.Calendar)

	AcquireNextTrigger(noLaterThan time.Time) scheduler.OperableTrigger
	TriggerFired(trigger scheduler.OperableTrigger) (*scheduler.FiredTriggerBundle, error)
}

type triggerRecord struct {
	trigger scheduler.OperableTrigger
	state   scheduler.TriggerState
}

// MemoryStore keeps jobs and triggers in process. It owns the trigger
// state machine: triggers enter BLOCKED while their stateful job executes
// and return to NORMAL when the shell reports completion. With a
// LockManager attached, stateful exclusion also spans processes sharing a
// database.
type MemoryStore struct {
	mu sync.Mutex

	jobs      map[scheduler.Key]*scheduler.JobDetail
	triggers  map[scheduler.Key]*triggerRecord
	calendars map[string]scheduler.Calendar

	// blocked tracks job keys whose stateful execution is in flight.
	blocked map[scheduler.Key]struct{}

	locks LockManager
	log   *logger.Logger
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[scheduler.Key]*scheduler.JobDetail),
		triggers:  make(map[scheduler.Key]*triggerRecord),
		calendars: make(map[string]scheduler.Calendar),
		blocked:   make(map[scheduler.Key]struct{}),
		log:       logger.New("memory-store"),
	}
}

// SetLockManager enables cross-process stateful-job exclusion through the
// given lock manager.
func (s *MemoryStore) SetLockManager(lm LockManager) {
	s.locks = lm
}

// StoreJob registers a job detail after validation.
func (s *MemoryStore) StoreJob(detail *scheduler.JobDetail, replace bool) error {
	if err := detail.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[detail.Key()]; exists && !replace {
		return scheduler.NewClientError("job '%s' already exists", detail.Key().FullName())
	}
	s.jobs[detail.Key()] = detail
	return nil
}

// StoreTrigger validates the trigger, requires its job, computes the first
// fire time against the trigger's calendar, and enters it NORMAL.
func (s *MemoryStore) StoreTrigger(trigger scheduler.OperableTrigger, replace bool) error {
	if err := trigger.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.triggers[trigger.Key()]; exists && !replace {
		return scheduler.NewClientError("trigger '%s' already exists", trigger.Key().FullName())
	}
	if _, ok := s.jobs[trigger.JobKey()]; !ok {
		return scheduler.NewClientError("trigger '%s' references unknown job '%s'",
			trigger.Key().FullName(), trigger.JobKey().FullName())
	}

	cal := s.calendars[trigger.CalendarName()]
	if first := trigger.ComputeFirstFireTime(cal); first.IsZero() {
		return scheduler.NewClientError("trigger '%s' will never fire", trigger.Key().FullName())
	}

	s.triggers[trigger.Key()] = &triggerRecord{trigger: trigger, state: scheduler.StateNormal}
	return nil
}

func (s *MemoryStore) RetrieveJob(key scheduler.Key) *scheduler.JobDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[key]
}

func (s *MemoryStore) RetrieveTrigger(key scheduler.Key) scheduler.OperableTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.triggers[key]; ok {
		return rec.trigger
	}
	return nil
}

// RemoveTrigger deletes a trigger, reporting whether it existed.
func (s *MemoryStore) RemoveTrigger(key scheduler.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.triggers[key]
	delete(s.triggers, key)
	return ok
}

// TriggerState returns the lifecycle state, StateNone for unknown
// triggers.
func (s *MemoryStore) TriggerState(key scheduler.Key) scheduler.TriggerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.triggers[key]; ok {
		return rec.state
	}
	return scheduler.StateNone
}

// PauseTrigger suspends a NORMAL or BLOCKED trigger.
func (s *MemoryStore) PauseTrigger(key scheduler.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.triggers[key]
	if !ok {
		return scheduler.NewClientError("trigger '%s' is not stored", key.FullName())
	}
	if rec.state == scheduler.StateComplete || rec.state == scheduler.StateError {
		return scheduler.NewClientError("trigger '%s' cannot be paused from state %s", key.FullName(), rec.state)
	}
	rec.state = scheduler.StatePaused
	return nil
}

// ResumeTrigger returns a paused trigger to NORMAL, repairing its fire
// times if they misfired while paused.
func (s *MemoryStore) ResumeTrigger(key scheduler.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.triggers[key]
	if !ok {
		return scheduler.NewClientError("trigger '%s' is not stored", key.FullName())
	}
	if rec.state != scheduler.StatePaused {
		return scheduler.NewClientError("trigger '%s' is not paused", key.FullName())
	}
	cal := s.calendars[rec.trigger.CalendarName()]
	if next := rec.trigger.NextFireTime(); !next.IsZero() && next.Before(time.Now()) {
		rec.trigger.UpdateAfterMisfire(cal)
	}
	rec.state = scheduler.StateNormal
	return nil
}

func (s *MemoryStore) AddCalendar(name string, cal scheduler.Calendar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendars[name] = cal
}

// AcquireNextTrigger returns the NORMAL trigger due soonest at or before
// noLaterThan, or nil when nothing is due. Selection follows the
// next-fire-time total order.
func (s *MemoryStore) AcquireNextTrigger(noLaterThan time.Time) scheduler.OperableTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best scheduler.OperableTrigger
	for _, rec := range s.triggers {
		if rec.state != scheduler.StateNormal {
			continue
		}
		next := rec.trigger.NextFireTime()
		if next.IsZero() || next.After(noLaterThan) {
			continue
		}
		if best == nil || scheduler.CompareTriggers(rec.trigger, best) < 0 {
			best = rec.trigger
		}
	}
	return best
}

// TriggerFired advances the trigger past the delivered fire and hands out
// the bundle for a run shell, stamping a fresh fire-instance id. It
// returns (nil, nil) when the trigger is not currently eligible, e.g. its
// stateful job is already executing here or on another node.
func (s *MemoryStore) TriggerFired(trigger scheduler.OperableTrigger) (*scheduler.FiredTriggerBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.triggers[trigger.Key()]
	if !ok || rec.state != scheduler.StateNormal {
		return nil, nil
	}
	detail, ok := s.jobs[trigger.JobKey()]
	if !ok {
		return nil, scheduler.NewClientError("trigger '%s' references unknown job '%s'",
			trigger.Key().FullName(), trigger.JobKey().FullName())
	}

	if detail.Stateful() {
		if _, executing := s.blocked[detail.Key()]; executing {
			return nil, nil
		}
		if s.locks != nil {
			acquired, err := s.acquireJobLock(detail.Key())
			if err != nil {
				return nil, scheduler.NewPersistenceError("acquiring stateful-job lock", err)
			}
			if !acquired {
				return nil, nil
			}
		}
	}

	cal := s.calendars[rec.trigger.CalendarName()]
	scheduled := rec.trigger.NextFireTime()
	prev := rec.trigger.PreviousFireTime()
	rec.trigger.Triggered(cal)

	fireInstanceID := uuid.New().String()
	rec.trigger.SetFireInstanceID(fireInstanceID)

	if detail.Stateful() {
		s.blocked[detail.Key()] = struct{}{}
		s.blockJobTriggersLocked(detail.Key())
	}

	return &scheduler.FiredTriggerBundle{
		Trigger:           rec.trigger,
		JobDetail:         detail,
		Calendar:          cal,
		FireInstanceID:    fireInstanceID,
		ScheduledFireTime: scheduled,
		FireTime:          time.Now(),
		PrevFireTime:      prev,
		NextFireTime:      rec.trigger.NextFireTime(),
	}, nil
}

// TriggeredJobComplete applies the shell's instruction and releases
// stateful-job blocking.
func (s *MemoryStore) TriggeredJobComplete(trigger scheduler.OperableTrigger, detail *scheduler.JobDetail, instruction scheduler.Instruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch instruction {
	case scheduler.InstructionNoop, scheduler.InstructionReExecuteJob:
		// Nothing to transition.
	case scheduler.InstructionSetTriggerComplete:
		s.setStateLocked(trigger.Key(), scheduler.StateComplete)
	case scheduler.InstructionDeleteTrigger:
		delete(s.triggers, trigger.Key())
	case scheduler.InstructionSetAllJobTriggersComplete:
		s.setJobTriggersStateLocked(detail.Key(), scheduler.StateComplete)
	case scheduler.InstructionSetTriggerError:
		s.setStateLocked(trigger.Key(), scheduler.StateError)
	case scheduler.InstructionSetAllJobTriggersError:
		s.setJobTriggersStateLocked(detail.Key(), scheduler.StateError)
	default:
		return scheduler.NewClientError("unknown completion instruction %d", int(instruction))
	}

	if detail.Stateful() {
		delete(s.blocked, detail.Key())
		s.unblockJobTriggersLocked(detail.Key())
		if s.locks != nil {
			if err := s.releaseJobLock(detail.Key()); err != nil {
				s.log.Error().
					Err(err).
					Str("action", "lock_release_failed").
					Str("job", detail.Key().FullName()).
					Msg("Failed to release stateful-job lock")
			}
		}
	}
	return nil
}

func (s *MemoryStore) setStateLocked(key scheduler.Key, state scheduler.TriggerState) {
	if rec, ok := s.triggers[key]; ok {
		rec.state = state
	}
}

func (s *MemoryStore) setJobTriggersStateLocked(jobKey scheduler.Key, state scheduler.TriggerState) {
	for _, rec := range s.triggers {
		if rec.trigger.JobKey() == jobKey {
			rec.state = state
		}
	}
}

func (s *MemoryStore) blockJobTriggersLocked(jobKey scheduler.Key) {
	for _, rec := range s.triggers {
		if rec.trigger.JobKey() == jobKey && rec.state == scheduler.StateNormal {
			rec.state = scheduler.StateBlocked
		}
	}
}

func (s *MemoryStore) unblockJobTriggersLocked(jobKey scheduler.Key) {
	for _, rec := range s.triggers {
		if rec.trigger.JobKey() == jobKey && rec.state == scheduler.StateBlocked {
			rec.state = scheduler.StateNormal
		}
	}
}
