package scheduler

import (
	"testing"
	"time"
)

func TestSimpleTriggerFireTimeAfter(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tr, err := NewSimpleTrigger("t1", "g", start, 3, 10*time.Second)
	if err != nil {
		t.Fatalf("NewSimpleTrigger() error = %v", err)
	}

	tests := []struct {
		name  string
		after time.Time
		want  time.Time
	}{
		{"before start", start.Add(-time.Second), start},
		{"at start", start, start.Add(10 * time.Second)},
		{"mid interval", start.Add(25 * time.Second), start.Add(30 * time.Second)},
		{"at final fire", start.Add(30 * time.Second), time.Time{}},
		{"past schedule", start.Add(time.Hour), time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tr.FireTimeAfter(tt.after)
			if !got.Equal(tt.want) {
				t.Errorf("FireTimeAfter(%v) = %v, want %v", tt.after, got, tt.want)
			}
		})
	}
}

func TestSimpleTriggerOneShot(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tr, err := NewSimpleTrigger("t1", "g", start, 0, 0)
	if err != nil {
		t.Fatalf("NewSimpleTrigger() error = %v", err)
	}

	if got := tr.FireTimeAfter(start.Add(-time.Minute)); !got.Equal(start) {
		t.Errorf("FireTimeAfter(before start) = %v, want %v", got, start)
	}
	if got := tr.FireTimeAfter(start); !got.IsZero() {
		t.Errorf("one-shot has no fire after its start, got %v", got)
	}
	if got := tr.FinalFireTime(); !got.Equal(start) {
		t.Errorf("FinalFireTime() = %v, want %v", got, start)
	}
}

func TestSimpleTriggerEndTimeBoundsFires(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tr, err := NewSimpleTrigger("t1", "g", start, RepeatIndefinitely, 10*time.Second)
	if err != nil {
		t.Fatalf("NewSimpleTrigger() error = %v", err)
	}
	if err := tr.SetEndTime(start.Add(20 * time.Second)); err != nil {
		t.Fatalf("SetEndTime() error = %v", err)
	}

	// The end bound is inclusive.
	if got := tr.FireTimeAfter(start.Add(10 * time.Second)); !got.Equal(start.Add(20 * time.Second)) {
		t.Errorf("fire at the end bound should be allowed, got %v", got)
	}
	if got := tr.FireTimeAfter(start.Add(20 * time.Second)); !got.IsZero() {
		t.Errorf("no fires past the end bound, got %v", got)
	}
	if got := tr.FinalFireTime(); !got.Equal(start.Add(20 * time.Second)) {
		t.Errorf("FinalFireTime() = %v, want %v", got, start.Add(20*time.Second))
	}
}

func TestSimpleTriggerFinalFireTime(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	bounded, err := NewSimpleTrigger("t1", "g", start, 3, 10*time.Second)
	if err != nil {
		t.Fatalf("NewSimpleTrigger() error = %v", err)
	}
	if got := bounded.FinalFireTime(); !got.Equal(start.Add(30 * time.Second)) {
		t.Errorf("FinalFireTime() = %v, want %v", got, start.Add(30*time.Second))
	}

	unbounded, err := NewSimpleTrigger("t2", "g", start, RepeatIndefinitely, 10*time.Second)
	if err != nil {
		t.Fatalf("NewSimpleTrigger() error = %v", err)
	}
	if got := unbounded.FinalFireTime(); !got.IsZero() {
		t.Errorf("unbounded schedule has no final fire, got %v", got)
	}
}

func TestSimpleTriggerTriggered(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tr, err := NewSimpleTrigger("t1", "g", start, 2, 10*time.Second)
	if err != nil {
		t.Fatalf("NewSimpleTrigger() error = %v", err)
	}

	first := tr.ComputeFirstFireTime(nil)
	if !first.Equal(start) {
		t.Fatalf("ComputeFirstFireTime() = %v, want %v", first, start)
	}

	tr.Triggered(nil)
	if tr.TimesTriggered() != 1 {
		t.Errorf("TimesTriggered = %d, want 1", tr.TimesTriggered())
	}
	if !tr.PreviousFireTime().Equal(start) {
		t.Errorf("PreviousFireTime = %v, want %v", tr.PreviousFireTime(), start)
	}
	if !tr.NextFireTime().Equal(start.Add(10 * time.Second)) {
		t.Errorf("NextFireTime = %v, want %v", tr.NextFireTime(), start.Add(10*time.Second))
	}

	tr.Triggered(nil)
	tr.Triggered(nil)
	if !tr.NextFireTime().IsZero() {
		t.Errorf("schedule should be exhausted after three fires, next = %v", tr.NextFireTime())
	}
	if tr.MayFireAgain() {
		t.Error("MayFireAgain() should be false after exhaustion")
	}
}

func TestSimpleTriggerCalendarMasksFireTimes(t *testing.T) {
	// Monday 2026-03-02; exclude Mondays so the first eligible fire is
	// Tuesday's.
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if start.Weekday() != time.Monday {
		t.Fatalf("test start should be a Monday, got %v", start.Weekday())
	}
	tr, err := NewSimpleTrigger("t1", "g", start, RepeatIndefinitely, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewSimpleTrigger() error = %v", err)
	}
	cal := NewWeeklyCalendar(time.Monday)

	first := tr.ComputeFirstFireTime(cal)
	want := start.Add(24 * time.Hour)
	if !first.Equal(want) {
		t.Errorf("ComputeFirstFireTime() = %v, want %v", first, want)
	}

	// Triggering from Tuesday lands on Wednesday.
	tr.Triggered(cal)
	if !tr.NextFireTime().Equal(start.Add(48 * time.Hour)) {
		t.Errorf("NextFireTime = %v, want Wednesday", tr.NextFireTime())
	}
}

func TestSimpleTriggerMisfireSmartPolicyOneShot(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	tr, err := NewSimpleTrigger("t1", "g", start, 0, 0)
	if err != nil {
		t.Fatalf("NewSimpleTrigger() error = %v", err)
	}
	tr.ComputeFirstFireTime(nil)

	before := time.Now()
	tr.UpdateAfterMisfire(nil)
	next := tr.NextFireTime()

	if next.IsZero() {
		t.Fatal("smart policy on a one-shot should fire now, got none")
	}
	if next.Before(before) || time.Since(next) > 5*time.Second {
		t.Errorf("repaired fire time should be now-ish, got %v", next)
	}
}

func TestSimpleTriggerMisfireRescheduleNowWithExistingCount(t *testing.T) {
	start := time.Now().Add(-5 * time.Minute)
	tr, err := NewSimpleTrigger("t1", "g", start, 5, time.Minute)
	if err != nil {
		t.Fatalf("NewSimpleTrigger() error = %v", err)
	}
	tr.ComputeFirstFireTime(nil)
	tr.SetTimesTriggered(2)
	if err := tr.SetMisfireInstruction(SimpleMisfireRescheduleNowWithExistingRepeatCount); err != nil {
		t.Fatalf("SetMisfireInstruction() error = %v", err)
	}

	tr.UpdateAfterMisfire(nil)

	if tr.RepeatCount() != 3 {
		t.Errorf("RepeatCount = %d, want 3 (5 minus 2 already delivered)", tr.RepeatCount())
	}
	if tr.TimesTriggered() != 0 {
		t.Errorf("TimesTriggered = %d, want 0 after restart", tr.TimesTriggered())
	}
	if time.Since(tr.NextFireTime()) > 5*time.Second || time.Since(tr.StartTime()) > 5*time.Second {
		t.Errorf("schedule should restart now, next = %v start = %v", tr.NextFireTime(), tr.StartTime())
	}
}

func TestSimpleTriggerMisfireRescheduleNextWithRemainingCount(t *testing.T) {
	// The schedule started 35s ago with a 10s interval; the repair should
	// land on the next aligned instant and count the four missed fires.
	start := time.Now().Add(-35 * time.Second)
	tr, err := NewSimpleTrigger("t1", "g", start, RepeatIndefinitely, 10*time.Second)
	if err != nil {
		t.Fatalf("NewSimpleTrigger() error = %v", err)
	}
	tr.ComputeFirstFireTime(nil)
	if err := tr.SetMisfireInstruction(SimpleMisfireRescheduleNextWithRemainingCount); err != nil {
		t.Fatalf("SetMisfireInstruction() error = %v", err)
	}

	tr.UpdateAfterMisfire(nil)

	want := start.Add(40 * time.Second)
	if !tr.NextFireTime().Equal(want) {
		t.Errorf("NextFireTime = %v, want %v", tr.NextFireTime(), want)
	}
	if tr.TimesTriggered() != 4 {
		t.Errorf("TimesTriggered = %d, want 4 missed fires accounted", tr.TimesTriggered())
	}
}

func TestSimpleTriggerMisfirePastEndTime(t *testing.T) {
	start := time.Now().Add(-time.Hour)
	tr, err := NewSimpleTrigger("t1", "g", start, 5, time.Minute)
	if err != nil {
		t.Fatalf("NewSimpleTrigger() error = %v", err)
	}
	if err := tr.SetEndTime(start.Add(10 * time.Minute)); err != nil {
		t.Fatalf("SetEndTime() error = %v", err)
	}
	tr.ComputeFirstFireTime(nil)
	if err := tr.SetMisfireInstruction(SimpleMisfireRescheduleNowWithExistingRepeatCount); err != nil {
		t.Fatalf("SetMisfireInstruction() error = %v", err)
	}

	tr.UpdateAfterMisfire(nil)

	if !tr.NextFireTime().IsZero() {
		t.Errorf("repair past the end time should leave no next fire, got %v", tr.NextFireTime())
	}
}

func TestSimpleTriggerValidateInterval(t *testing.T) {
	start := time.Now().Add(time.Hour)
	tr, err := NewSimpleTrigger("t1", "g", start, 3, 0)
	if err != nil {
		t.Fatalf("NewSimpleTrigger() error = %v", err)
	}
	if err := tr.SetJobName("job"); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetJobGroup(""); err != nil {
		t.Fatal(err)
	}
	if err := tr.Validate(); err == nil {
		t.Error("repeating trigger with zero interval should not validate")
	}
}
