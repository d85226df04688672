package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MisfireSmartPolicy instructs a trigger to pick its own most sensible
// repair in UpdateAfterMisfire. It is valid for every trigger type.
const MisfireSmartPolicy = 0

// Trigger is the read surface shared by every schedule type. A zero
// time.Time stands for "absent" throughout (no end time, no next fire).
type Trigger interface {
	Key() Key
	JobKey() Key
	Description() string
	CalendarName() string
	JobDataMap() *JobDataMap
	Volatile() bool
	FireInstanceID() string
	MisfireInstruction() int
	ListenerNames() []string

	StartTime() time.Time
	EndTime() time.Time
	NextFireTime() time.Time
	PreviousFireTime() time.Time
	FireTimeAfter(after time.Time) time.Time
	FinalFireTime() time.Time
	MayFireAgain() bool

	Validate() error
	String() string
}

// OperableTrigger adds the mutating half of the fire-time contract. The
// scheduler and job store drive triggers exclusively through this
// interface; jobs and listeners only ever see Trigger.
type OperableTrigger interface {
	Trigger

	// ComputeFirstFireTime sets and returns the first fire time on or
	// after the start time, honoring the calendar. Zero means the
	// schedule never fires.
	ComputeFirstFireTime(cal Calendar) time.Time
	// Triggered advances the trigger past the fire that was just
	// delivered.
	Triggered(cal Calendar)
	// UpdateAfterMisfire repairs the trigger state to a sane next fire
	// after one or more fire moments elapsed undelivered.
	UpdateAfterMisfire(cal Calendar)
	// UpdateWithNewCalendar recomputes the next fire time against a
	// replacement calendar, pushing past fire times forward if they fall
	// more than misfireThreshold in the past.
	UpdateWithNewCalendar(cal Calendar, misfireThreshold time.Duration)
	// ExecutionComplete inspects the outcome of an execution pass and
	// tells the shell how to proceed.
	ExecutionComplete(jec *JobExecutionContext, jobErr *JobExecutionError) Instruction

	SetFireInstanceID(id string)
	Clone() OperableTrigger
}

// TriggerTraits is the capability surface a concrete trigger hands to its
// embedded TriggerCore so the shared mutators can consult schedule-specific
// behavior without inheritance.
type TriggerTraits interface {
	// HasMillisecondPrecision reports whether the schedule distinguishes
	// sub-second instants. When false, start times are truncated to
	// second boundaries on assignment.
	HasMillisecondPrecision() bool
	// ValidateMisfireInstruction reports whether the code belongs to this
	// trigger type's misfire enumeration.
	ValidateMisfireInstruction(instruction int) bool
	// MayFireAgain reports whether the schedule will produce another
	// fire time.
	MayFireAgain() bool
}

// TriggerCore is the shared record embedded by every concrete trigger:
// identity, job binding, listener names, window, misfire selector. Its
// mutators validate eagerly so an invalid trigger can never reach the
// scheduler.
type TriggerCore struct {
	key          Key
	jobKey       Key
	description  string
	calendarName string

	jobDataMap     *JobDataMap
	volatility     bool
	fireInstanceID string

	misfireInstruction int
	listenerNames      []string

	startTime time.Time
	endTime   time.Time

	traits TriggerTraits
}

// NewTriggerCore builds the shared record bound to the concrete trigger's
// traits. Concrete constructors call this with themselves.
func NewTriggerCore(traits TriggerTraits) TriggerCore {
	return TriggerCore{traits: traits}
}

// BindTraits rebinds the capability table; Clone implementations use it to
// point a copied core at the copied concrete trigger.
func (tc *TriggerCore) BindTraits(traits TriggerTraits) {
	tc.traits = traits
}

func (tc *TriggerCore) Key() Key               { return tc.key }
func (tc *TriggerCore) JobKey() Key            { return tc.jobKey }
func (tc *TriggerCore) Description() string    { return tc.description }
func (tc *TriggerCore) CalendarName() string   { return tc.calendarName }
func (tc *TriggerCore) Volatile() bool         { return tc.volatility }
func (tc *TriggerCore) FireInstanceID() string { return tc.fireInstanceID }
func (tc *TriggerCore) MisfireInstruction() int {
	return tc.misfireInstruction
}
func (tc *TriggerCore) StartTime() time.Time { return tc.startTime }
func (tc *TriggerCore) EndTime() time.Time   { return tc.endTime }

// JobDataMap returns the trigger's payload map, constructing it lazily.
func (tc *TriggerCore) JobDataMap() *JobDataMap {
	if tc.jobDataMap == nil {
		tc.jobDataMap = NewJobDataMap()
	}
	return tc.jobDataMap
}

// SetJobDataMap replaces the trigger's payload map.
func (tc *TriggerCore) SetJobDataMap(m *JobDataMap) {
	tc.jobDataMap = m
}

// SetName rejects empty names; a trigger must be addressable.
func (tc *TriggerCore) SetName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("trigger name cannot be empty: %w", ErrInvalidArgument)
	}
	tc.key.Name = name
	return nil
}

// SetGroup substitutes the default group for an empty value and rejects
// whitespace-only groups.
func (tc *TriggerCore) SetGroup(group string) error {
	if group == "" {
		tc.key.Group = DefaultGroup
		return nil
	}
	if strings.TrimSpace(group) == "" {
		return fmt.Errorf("trigger group cannot be blank: %w", ErrInvalidArgument)
	}
	tc.key.Group = group
	return nil
}

// SetJobName rejects empty job names.
func (tc *TriggerCore) SetJobName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("job name cannot be empty: %w", ErrInvalidArgument)
	}
	tc.jobKey.Name = name
	return nil
}

// SetJobGroup substitutes the default group for an empty value and rejects
// whitespace-only groups.
func (tc *TriggerCore) SetJobGroup(group string) error {
	if group == "" {
		tc.jobKey.Group = DefaultGroup
		return nil
	}
	if strings.TrimSpace(group) == "" {
		return fmt.Errorf("job group cannot be blank: %w", ErrInvalidArgument)
	}
	tc.jobKey.Group = group
	return nil
}

func (tc *TriggerCore) SetDescription(d string) {
	tc.description = d
}

func (tc *TriggerCore) SetCalendarName(name string) {
	tc.calendarName = name
}

func (tc *TriggerCore) SetVolatile(v bool) {
	tc.volatility = v
}

func (tc *TriggerCore) SetFireInstanceID(id string) {
	tc.fireInstanceID = id
}

// SetStartTime rejects zero and start-after-end, and truncates sub-second
// precision when the schedule cannot express it.
func (tc *TriggerCore) SetStartTime(t time.Time) error {
	if t.IsZero() {
		return fmt.Errorf("start time cannot be zero: %w", ErrInvalidArgument)
	}
	if !tc.endTime.IsZero() && t.After(tc.endTime) {
		return fmt.Errorf("start time cannot be after end time: %w", ErrInvalidArgument)
	}
	if tc.traits == nil || !tc.traits.HasMillisecondPrecision() {
		t = t.Truncate(time.Second)
	}
	tc.startTime = t
	return nil
}

// SetEndTime rejects an end before the start. The end is an inclusive
// bound, so end == start is accepted. Zero clears the bound.
func (tc *TriggerCore) SetEndTime(t time.Time) error {
	if !t.IsZero() && !tc.startTime.IsZero() && t.Before(tc.startTime) {
		return fmt.Errorf("end time cannot be before start time: %w", ErrInvalidArgument)
	}
	tc.endTime = t
	return nil
}

// SetMisfireInstruction delegates validity to the concrete trigger's
// enumeration. The smart policy is always accepted.
func (tc *TriggerCore) SetMisfireInstruction(instruction int) error {
	if instruction != MisfireSmartPolicy &&
		(tc.traits == nil || !tc.traits.ValidateMisfireInstruction(instruction)) {
		return fmt.Errorf("misfire instruction %d is not valid for this trigger: %w",
			instruction, ErrInvalidArgument)
	}
	tc.misfireInstruction = instruction
	return nil
}

// ListenerNames returns the ordered trigger-listener names. The slice is a
// copy; the trigger owns the order.
func (tc *TriggerCore) ListenerNames() []string {
	out := make([]string, len(tc.listenerNames))
	copy(out, tc.listenerNames)
	return out
}

// AddTriggerListener appends a listener name. Listeners are notified in
// insertion order.
func (tc *TriggerCore) AddTriggerListener(name string) {
	tc.listenerNames = append(tc.listenerNames, name)
}

// RemoveTriggerListener removes the first occurrence of name and reports
// whether it was present.
func (tc *TriggerCore) RemoveTriggerListener(name string) bool {
	for i, n := range tc.listenerNames {
		if n == name {
			tc.listenerNames = append(tc.listenerNames[:i], tc.listenerNames[i+1:]...)
			return true
		}
	}
	return false
}

// Validate is the pre-scheduling gate: all four identity parts must be
// present before a trigger may enter the store.
func (tc *TriggerCore) Validate() error {
	if tc.key.Name == "" {
		return NewClientError("trigger's name cannot be empty")
	}
	if tc.key.Group == "" {
		return NewClientError("trigger's group cannot be empty")
	}
	if tc.jobKey.Name == "" {
		return NewClientError("trigger's related job's name cannot be empty")
	}
	if tc.jobKey.Group == "" {
		return NewClientError("trigger's related job's group cannot be empty")
	}
	return nil
}

// Equals reports identity equality with another trigger: same (group,
// name) pair.
func (tc *TriggerCore) Equals(other Trigger) bool {
	return other != nil && tc.key == other.Key()
}

// ExecutionComplete derives the shell instruction from the job's outcome:
// the job error's directives win, then an exhausted schedule deletes the
// trigger, otherwise proceed normally.
func (tc *TriggerCore) ExecutionComplete(_ *JobExecutionContext, jobErr *JobExecutionError) Instruction {
	if jobErr != nil {
		switch {
		case jobErr.RefireImmediately():
			return InstructionReExecuteJob
		case jobErr.UnscheduleFiringTrigger():
			return InstructionSetTriggerComplete
		case jobErr.UnscheduleAllTriggers():
			return InstructionSetAllJobTriggersComplete
		}
	}
	if tc.traits != nil && !tc.traits.MayFireAgain() {
		return InstructionDeleteTrigger
	}
	return InstructionNoop
}

// cloneCore returns a deep copy of the shared record. The caller must
// rebind traits to the new concrete trigger.
func (tc *TriggerCore) cloneCore() TriggerCore {
	out := *tc
	out.listenerNames = make([]string, len(tc.listenerNames))
	copy(out.listenerNames, tc.listenerNames)
	if tc.jobDataMap != nil {
		out.jobDataMap = tc.jobDataMap.Clone()
	}
	out.traits = nil
	return out
}

// describe renders the shared fields; concrete triggers use it for their
// String methods.
func (tc *TriggerCore) describe(nextFireTime time.Time) string {
	next := "none"
	if !nextFireTime.IsZero() {
		next = nextFireTime.Format(time.RFC3339)
	}
	return fmt.Sprintf("Trigger '%s': job='%s' misfire=%d nextFireTime=%s",
		tc.key.FullName(), tc.jobKey.FullName(), tc.misfireInstruction, next)
}

// CompareTriggers orders triggers by next fire time ascending. A trigger
// with no next fire time sorts after one that has one; two absent times
// compare equal. The result is a total order suitable for due-queue
// selection.
func CompareTriggers(a, b Trigger) int {
	an, bn := a.NextFireTime(), b.NextFireTime()
	switch {
	case an.IsZero() && bn.IsZero():
		return 0
	case an.IsZero():
		return 1
	case bn.IsZero():
		return -1
	case an.Before(bn):
		return -1
	case an.After(bn):
		return 1
	default:
		return 0
	}
}

// SortByFireTime sorts triggers in place into due order.
func SortByFireTime(triggers []Trigger) {
	sort.SliceStable(triggers, func(i, j int) bool {
		return CompareTriggers(triggers[i], triggers[j]) < 0
	})
}
