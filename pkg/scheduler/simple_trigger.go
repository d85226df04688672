package scheduler

import (
	"fmt"
	"time"
)

// RepeatIndefinitely makes a SimpleTrigger repeat until its end time, or
// forever without one.
const RepeatIndefinitely = -1

// Misfire instructions specific to SimpleTrigger, extending the smart
// policy.
const (
	// SimpleMisfireFireNow fires immediately. Only sensible for
	// non-repeating triggers; repeating ones are upgraded to
	// SimpleMisfireRescheduleNowWithRemainingRepeatCount.
	SimpleMisfireFireNow = 1
	// SimpleMisfireRescheduleNowWithExistingRepeatCount restarts the
	// schedule now with the repeats not yet delivered; missed fires are
	// not deducted.
	SimpleMisfireRescheduleNowWithExistingRepeatCount = 2
	// SimpleMisfireRescheduleNowWithRemainingRepeatCount restarts the
	// schedule now, deducting both delivered and missed fires from the
	// repeat count.
	SimpleMisfireRescheduleNowWithRemainingRepeatCount = 3
	// SimpleMisfireRescheduleNextWithRemainingCount waits for the next
	// scheduled instant, counting the missed fires as delivered.
	SimpleMisfireRescheduleNextWithRemainingCount = 4
	// SimpleMisfireRescheduleNextWithExistingCount waits for the next
	// scheduled instant without counting the missed fires.
	SimpleMisfireRescheduleNextWithExistingCount = 5
)

// SimpleTrigger fires at its start time and then, optionally, repeats at a
// fixed interval a fixed number of times.
type SimpleTrigger struct {
	TriggerCore

	repeatCount    int
	repeatInterval time.Duration
	timesTriggered int

	nextFireTime     time.Time
	previousFireTime time.Time
}

// NewSimpleTrigger builds a simple trigger firing at start and repeating
// repeatCount more times every interval. Use RepeatIndefinitely to repeat
// without bound and repeatCount 0 for a one-shot.
func NewSimpleTrigger(name, group string, start time.Time, repeatCount int, interval time.Duration) (*SimpleTrigger, error) {
	t := &SimpleTrigger{}
	t.TriggerCore = NewTriggerCore(t)
	if err := t.SetName(name); err != nil {
		return nil, err
	}
	if err := t.SetGroup(group); err != nil {
		return nil, err
	}
	if err := t.SetRepeatCount(repeatCount); err != nil {
		return nil, err
	}
	if err := t.SetRepeatInterval(interval); err != nil {
		return nil, err
	}
	if err := t.SetStartTime(start); err != nil {
		return nil, err
	}
	return t, nil
}

// HasMillisecondPrecision is true: interval math keeps sub-second instants.
func (t *SimpleTrigger) HasMillisecondPrecision() bool { return true }

// ValidateMisfireInstruction accepts the smart policy and the five simple
// codes.
func (t *SimpleTrigger) ValidateMisfireInstruction(instruction int) bool {
	return instruction >= MisfireSmartPolicy &&
		instruction <= SimpleMisfireRescheduleNextWithExistingCount
}

func (t *SimpleTrigger) RepeatCount() int { return t.repeatCount }

// SetRepeatCount rejects values below RepeatIndefinitely.
func (t *SimpleTrigger) SetRepeatCount(count int) error {
	if count < RepeatIndefinitely {
		return fmt.Errorf("repeat count must be >= 0 or RepeatIndefinitely: %w", ErrInvalidArgument)
	}
	t.repeatCount = count
	return nil
}

func (t *SimpleTrigger) RepeatInterval() time.Duration { return t.repeatInterval }

// SetRepeatInterval rejects negative intervals.
func (t *SimpleTrigger) SetRepeatInterval(interval time.Duration) error {
	if interval < 0 {
		return fmt.Errorf("repeat interval must not be negative: %w", ErrInvalidArgument)
	}
	t.repeatInterval = interval
	return nil
}

// TimesTriggered is how many fires the store has delivered so far.
func (t *SimpleTrigger) TimesTriggered() int     { return t.timesTriggered }
func (t *SimpleTrigger) SetTimesTriggered(n int) { t.timesTriggered = n }

func (t *SimpleTrigger) NextFireTime() time.Time     { return t.nextFireTime }
func (t *SimpleTrigger) PreviousFireTime() time.Time { return t.previousFireTime }

// SetNextFireTime lets the job store restore persisted state.
func (t *SimpleTrigger) SetNextFireTime(next time.Time)     { t.nextFireTime = next }
func (t *SimpleTrigger) SetPreviousFireTime(prev time.Time) { t.previousFireTime = prev }

func (t *SimpleTrigger) MayFireAgain() bool {
	return !t.nextFireTime.IsZero()
}

// ComputeFirstFireTime establishes the initial next-fire-time, skipping
// calendar-excluded instants.
func (t *SimpleTrigger) ComputeFirstFireTime(cal Calendar) time.Time {
	next := t.StartTime()
	for cal != nil && !next.IsZero() && !cal.IsTimeIncluded(next) {
		next = t.FireTimeAfter(next)
	}
	t.nextFireTime = next
	return next
}

// FireTimeAfter returns the first scheduled instant strictly after the
// given time, or zero when the schedule is exhausted. A zero argument means
// now.
func (t *SimpleTrigger) FireTimeAfter(after time.Time) time.Time {
	if t.repeatCount != RepeatIndefinitely && t.timesTriggered > t.repeatCount {
		return time.Time{}
	}
	if after.IsZero() {
		after = time.Now()
	}

	start := t.StartTime()
	if t.repeatCount == 0 && !after.Before(start) {
		return time.Time{}
	}

	var next time.Time
	if after.Before(start) {
		next = start
	} else {
		if t.repeatInterval <= 0 {
			return time.Time{}
		}
		n := after.Sub(start)/t.repeatInterval + 1
		if t.repeatCount != RepeatIndefinitely && int(n) > t.repeatCount {
			return time.Time{}
		}
		next = start.Add(time.Duration(n) * t.repeatInterval)
	}

	if end := t.EndTime(); !end.IsZero() && next.After(end) {
		return time.Time{}
	}
	return next
}

// FinalFireTime is the last instant the schedule can produce, or zero for
// an unbounded schedule.
func (t *SimpleTrigger) FinalFireTime() time.Time {
	start := t.StartTime()
	end := t.EndTime()

	if t.repeatCount == 0 {
		return start
	}

	if t.repeatCount == RepeatIndefinitely {
		if end.IsZero() {
			return time.Time{}
		}
		return lastFireBefore(start, end, t.repeatInterval)
	}

	last := start.Add(time.Duration(t.repeatCount) * t.repeatInterval)
	if end.IsZero() || !last.After(end) {
		return last
	}
	return lastFireBefore(start, end, t.repeatInterval)
}

// lastFireBefore is the last instant of the interval series from start
// that is <= end (the end bound is inclusive).
func lastFireBefore(start, end time.Time, interval time.Duration) time.Time {
	if interval <= 0 || end.Before(start) {
		return time.Time{}
	}
	n := end.Sub(start) / interval
	return start.Add(time.Duration(n) * interval)
}

// Triggered advances past the fire that was just delivered.
func (t *SimpleTrigger) Triggered(cal Calendar) {
	t.timesTriggered++
	t.previousFireTime = t.nextFireTime
	next := t.FireTimeAfter(t.nextFireTime)
	for cal != nil && !next.IsZero() && !cal.IsTimeIncluded(next) {
		next = t.FireTimeAfter(next)
	}
	t.nextFireTime = next
}

// UpdateAfterMisfire repairs the trigger according to its misfire
// instruction. The smart policy picks fire-now for one-shots,
// next-with-remaining for unbounded schedules, and now-with-existing for
// bounded repeats.
func (t *SimpleTrigger) UpdateAfterMisfire(cal Calendar) {
	instr := t.MisfireInstruction()
	if instr == MisfireSmartPolicy {
		switch {
		case t.repeatCount == 0:
			instr = SimpleMisfireFireNow
		case t.repeatCount == RepeatIndefinitely:
			instr = SimpleMisfireRescheduleNextWithRemainingCount
		default:
			instr = SimpleMisfireRescheduleNowWithExistingRepeatCount
		}
	}
	// Fire-now on a repeating trigger would collapse the remaining
	// schedule onto the repaired start; treat it as now-with-remaining.
	if instr == SimpleMisfireFireNow && t.repeatCount != 0 {
		instr = SimpleMisfireRescheduleNowWithRemainingRepeatCount
	}

	now := time.Now()
	switch instr {
	case SimpleMisfireFireNow:
		t.nextFireTime = now

	case SimpleMisfireRescheduleNextWithExistingCount:
		t.nextFireTime = t.nextIncludedFireTime(now, cal)

	case SimpleMisfireRescheduleNextWithRemainingCount:
		next := t.nextIncludedFireTime(now, cal)
		if !next.IsZero() {
			t.timesTriggered += t.timesFiredBetween(t.nextFireTime, next)
		}
		t.nextFireTime = next

	case SimpleMisfireRescheduleNowWithExistingRepeatCount:
		if t.repeatCount != 0 && t.repeatCount != RepeatIndefinitely {
			t.repeatCount -= t.timesTriggered
			t.timesTriggered = 0
		}
		t.rescheduleFrom(now)

	case SimpleMisfireRescheduleNowWithRemainingRepeatCount:
		missed := t.timesFiredBetween(t.nextFireTime, now)
		if t.repeatCount != 0 && t.repeatCount != RepeatIndefinitely {
			remaining := t.repeatCount - (t.timesTriggered + missed)
			if remaining < 0 {
				remaining = 0
			}
			t.repeatCount = remaining
			t.timesTriggered = 0
		}
		t.rescheduleFrom(now)
	}
}

func (t *SimpleTrigger) nextIncludedFireTime(after time.Time, cal Calendar) time.Time {
	next := t.FireTimeAfter(after)
	for cal != nil && !next.IsZero() && !cal.IsTimeIncluded(next) {
		next = t.FireTimeAfter(next)
	}
	return next
}

func (t *SimpleTrigger) rescheduleFrom(now time.Time) {
	if end := t.EndTime(); !end.IsZero() && end.Before(now) {
		t.nextFireTime = time.Time{} // past the end of the window
		return
	}
	t.startTime = now
	t.nextFireTime = now
}

func (t *SimpleTrigger) timesFiredBetween(from, to time.Time) int {
	if t.repeatInterval <= 0 || from.IsZero() || !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / t.repeatInterval)
}

// UpdateWithNewCalendar recomputes the next fire time against a
// replacement calendar, pushing forward if the result has already misfired
// beyond the threshold.
func (t *SimpleTrigger) UpdateWithNewCalendar(cal Calendar, misfireThreshold time.Duration) {
	next := t.FireTimeAfter(t.previousFireTime)
	if next.IsZero() || cal == nil {
		t.nextFireTime = next
		return
	}

	now := time.Now()
	for !next.IsZero() && !cal.IsTimeIncluded(next) {
		next = t.FireTimeAfter(next)
	}
	if !next.IsZero() && next.Before(now) {
		if now.Sub(next) >= misfireThreshold {
			next = t.nextIncludedFireTime(now, cal)
		}
	}
	t.nextFireTime = next
}

// Validate extends the shared gate with interval sanity for repeating
// schedules.
func (t *SimpleTrigger) Validate() error {
	if err := t.TriggerCore.Validate(); err != nil {
		return err
	}
	if t.repeatCount != 0 && t.repeatInterval <= 0 {
		return NewClientError("repeat interval must be positive for a repeating trigger")
	}
	return nil
}

// Clone produces an independent copy.
func (t *SimpleTrigger) Clone() OperableTrigger {
	out := *t
	out.TriggerCore = t.cloneCore()
	out.BindTraits(&out)
	return &out
}

func (t *SimpleTrigger) String() string {
	return t.describe(t.nextFireTime) +
		fmt.Sprintf(" repeatCount=%d repeatInterval=%s timesTriggered=%d",
			t.repeatCount, t.repeatInterval, t.timesTriggered)
}
