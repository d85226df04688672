package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Misfire instructions specific to CronTrigger, extending the smart policy.
const (
	// CronMisfireFireOnceNow fires one catch-up execution immediately,
	// then resumes the normal schedule.
	CronMisfireFireOnceNow = 1
	// CronMisfireDoNothing skips the missed fires and waits for the next
	// scheduled instant.
	CronMisfireDoNothing = 2
)

// cronParser accepts standard five-field expressions, an optional leading
// seconds field, and @-descriptors.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CronTrigger fires on the instants matched by a cron expression. Cron
// schedules resolve to whole seconds, so start times are truncated to
// second boundaries on assignment.
type CronTrigger struct {
	TriggerCore

	expression string
	schedule   cron.Schedule
	location   *time.Location

	nextFireTime     time.Time
	previousFireTime time.Time
}

// NewCronTrigger builds a cron trigger from an expression, evaluated in
// loc (UTC when nil). The start time defaults to now; use SetStartTime to
// delay the schedule's opening.
func NewCronTrigger(name, group, expression string, loc *time.Location) (*CronTrigger, error) {
	t := &CronTrigger{}
	t.TriggerCore = NewTriggerCore(t)
	if err := t.SetName(name); err != nil {
		return nil, err
	}
	if err := t.SetGroup(group); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	t.location = loc
	if err := t.SetExpression(expression); err != nil {
		return nil, err
	}
	if err := t.SetStartTime(time.Now().In(loc)); err != nil {
		return nil, err
	}
	return t, nil
}

// HasMillisecondPrecision is false: cron instants are whole seconds.
func (t *CronTrigger) HasMillisecondPrecision() bool { return false }

// ValidateMisfireInstruction accepts the smart policy, fire-once-now and
// do-nothing.
func (t *CronTrigger) ValidateMisfireInstruction(instruction int) bool {
	return instruction >= MisfireSmartPolicy && instruction <= CronMisfireDoNothing
}

func (t *CronTrigger) Expression() string { return t.expression }

// SetExpression parses and installs a new cron expression.
func (t *CronTrigger) SetExpression(expression string) error {
	sched, err := cronParser.Parse(expression)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expression, ErrInvalidArgument)
	}
	t.expression = expression
	t.schedule = sched
	return nil
}

func (t *CronTrigger) Location() *time.Location { return t.location }

func (t *CronTrigger) NextFireTime() time.Time     { return t.nextFireTime }
func (t *CronTrigger) PreviousFireTime() time.Time { return t.previousFireTime }

// SetNextFireTime lets the job store restore persisted state.
func (t *CronTrigger) SetNextFireTime(next time.Time)     { t.nextFireTime = next }
func (t *CronTrigger) SetPreviousFireTime(prev time.Time) { t.previousFireTime = prev }

func (t *CronTrigger) MayFireAgain() bool {
	return !t.nextFireTime.IsZero()
}

// ComputeFirstFireTime establishes the initial next-fire-time on or after
// the start time, skipping calendar-excluded instants.
func (t *CronTrigger) ComputeFirstFireTime(cal Calendar) time.Time {
	// The start instant itself is eligible; Next is strictly-after, so
	// step back one second.
	next := t.FireTimeAfter(t.StartTime().Add(-time.Second))
	for cal != nil && !next.IsZero() && !cal.IsTimeIncluded(next) {
		next = t.FireTimeAfter(next)
	}
	t.nextFireTime = next
	return next
}

// FireTimeAfter returns the first matching instant strictly after the
// given time, bounded below by the start time and above by the end time.
// A zero argument means now.
func (t *CronTrigger) FireTimeAfter(after time.Time) time.Time {
	if t.schedule == nil {
		return time.Time{}
	}
	if after.IsZero() {
		after = time.Now()
	}
	if start := t.StartTime(); !start.IsZero() && after.Before(start.Add(-time.Second)) {
		after = start.Add(-time.Second)
	}

	next := t.schedule.Next(after.In(t.location))
	if next.IsZero() {
		return time.Time{}
	}
	if end := t.EndTime(); !end.IsZero() && next.After(end) {
		return time.Time{}
	}
	return next
}

// maxFinalFireScan bounds the forward walk FinalFireTime performs; the
// expression parser has no inverse, so the last fire inside the window is
// found by iteration.
const maxFinalFireScan = 100000

// FinalFireTime is the last matching instant not after the end time, or
// zero when the trigger has no end time (a cron schedule is unbounded).
func (t *CronTrigger) FinalFireTime() time.Time {
	end := t.EndTime()
	if end.IsZero() || t.schedule == nil {
		return time.Time{}
	}

	var last time.Time
	cursor := t.StartTime().Add(-time.Second)
	for i := 0; i < maxFinalFireScan; i++ {
		next := t.schedule.Next(cursor.In(t.location))
		if next.IsZero() || next.After(end) {
			break
		}
		last = next
		cursor = next
	}
	return last
}

// Triggered advances past the fire that was just delivered.
func (t *CronTrigger) Triggered(cal Calendar) {
	t.previousFireTime = t.nextFireTime
	next := t.FireTimeAfter(t.nextFireTime)
	for cal != nil && !next.IsZero() && !cal.IsTimeIncluded(next) {
		next = t.FireTimeAfter(next)
	}
	t.nextFireTime = next
}

// UpdateAfterMisfire repairs the trigger: the smart policy fires one
// catch-up execution now, do-nothing advances to the next included
// instant.
func (t *CronTrigger) UpdateAfterMisfire(cal Calendar) {
	instr := t.MisfireInstruction()
	if instr == MisfireSmartPolicy {
		instr = CronMisfireFireOnceNow
	}

	switch instr {
	case CronMisfireFireOnceNow:
		t.nextFireTime = time.Now().Truncate(time.Second)
	case CronMisfireDoNothing:
		next := t.FireTimeAfter(time.Now())
		for cal != nil && !next.IsZero() && !cal.IsTimeIncluded(next) {
			next = t.FireTimeAfter(next)
		}
		t.nextFireTime = next
	}
}

// UpdateWithNewCalendar recomputes the next fire time against a
// replacement calendar, pushing forward if the result has already misfired
// beyond the threshold.
func (t *CronTrigger) UpdateWithNewCalendar(cal Calendar, misfireThreshold time.Duration) {
	next := t.FireTimeAfter(t.previousFireTime)
	if next.IsZero() || cal == nil {
		t.nextFireTime = next
		return
	}

	now := time.Now()
	for !next.IsZero() && !cal.IsTimeIncluded(next) {
		next = t.FireTimeAfter(next)
	}
	if !next.IsZero() && next.Before(now) && now.Sub(next) >= misfireThreshold {
		next = t.FireTimeAfter(now)
		for cal != nil && !next.IsZero() && !cal.IsTimeIncluded(next) {
			next = t.FireTimeAfter(next)
		}
	}
	t.nextFireTime = next
}

// Validate extends the shared gate with expression presence.
func (t *CronTrigger) Validate() error {
	if err := t.TriggerCore.Validate(); err != nil {
		return err
	}
	if t.schedule == nil {
		return NewClientError("cron trigger '%s' has no expression", t.Key().FullName())
	}
	return nil
}

// Clone produces an independent copy. The parsed schedule is immutable and
// shared.
func (t *CronTrigger) Clone() OperableTrigger {
	out := *t
	out.TriggerCore = t.cloneCore()
	out.BindTraits(&out)
	return &out
}

func (t *CronTrigger) String() string {
	return t.describe(t.nextFireTime) + fmt.Sprintf(" expression=%q", t.expression)
}
