package scheduler

import (
	"errors"
	"testing"
	"time"
)

func newTestTrigger(t *testing.T, name string) *SimpleTrigger {
	t.Helper()
	tr, err := NewSimpleTrigger(name, "group", time.Now().Add(time.Hour), 5, time.Minute)
	if err != nil {
		t.Fatalf("NewSimpleTrigger() error = %v", err)
	}
	if err := tr.SetJobName("job"); err != nil {
		t.Fatalf("SetJobName() error = %v", err)
	}
	if err := tr.SetJobGroup("group"); err != nil {
		t.Fatalf("SetJobGroup() error = %v", err)
	}
	return tr
}

func TestTriggerNameMutators(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(tr *SimpleTrigger) error
		wantErr bool
	}{
		{
			name:    "empty name rejected",
			mutate:  func(tr *SimpleTrigger) error { return tr.SetName("") },
			wantErr: true,
		},
		{
			name:    "whitespace name rejected",
			mutate:  func(tr *SimpleTrigger) error { return tr.SetName("   ") },
			wantErr: true,
		},
		{
			name:    "empty group defaults",
			mutate:  func(tr *SimpleTrigger) error { return tr.SetGroup("") },
			wantErr: false,
		},
		{
			name:    "whitespace group rejected",
			mutate:  func(tr *SimpleTrigger) error { return tr.SetGroup("   ") },
			wantErr: true,
		},
		{
			name:    "empty job name rejected",
			mutate:  func(tr *SimpleTrigger) error { return tr.SetJobName("") },
			wantErr: true,
		},
		{
			name:    "empty job group defaults",
			mutate:  func(tr *SimpleTrigger) error { return tr.SetJobGroup("") },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTrigger(t, "t1")
			err := tt.mutate(tr)
			if (err != nil) != tt.wantErr {
				t.Errorf("mutator error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("error should wrap ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestTriggerGroupDefaulting(t *testing.T) {
	tr := newTestTrigger(t, "t1")
	if err := tr.SetGroup(""); err != nil {
		t.Fatalf("SetGroup(\"\") error = %v", err)
	}
	if tr.Key().Group != DefaultGroup {
		t.Errorf("group = %q, want %q", tr.Key().Group, DefaultGroup)
	}
}

func TestTriggerTimeWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tr, err := NewSimpleTrigger("t1", "g", start, RepeatIndefinitely, time.Minute)
	if err != nil {
		t.Fatalf("NewSimpleTrigger() error = %v", err)
	}

	// End before start is rejected.
	if err := tr.SetEndTime(start.Add(-time.Second)); err == nil {
		t.Error("SetEndTime() before start should fail")
	}

	// Start == end is accepted in both orders.
	if err := tr.SetEndTime(start); err != nil {
		t.Errorf("SetEndTime(start) error = %v", err)
	}
	if err := tr.SetStartTime(start); err != nil {
		t.Errorf("SetStartTime(end) error = %v", err)
	}

	// One tick past the end is rejected.
	if err := tr.SetStartTime(start.Add(time.Millisecond)); err == nil {
		t.Error("SetStartTime() after end should fail")
	}

	// Zero start is rejected.
	if err := tr.SetStartTime(time.Time{}); err == nil {
		t.Error("SetStartTime(zero) should fail")
	}
}

func TestStartTimeTruncationWithoutMillisecondPrecision(t *testing.T) {
	tr, err := NewCronTrigger("c1", "g", "0 0 12 * * *", time.UTC)
	if err != nil {
		t.Fatalf("NewCronTrigger() error = %v", err)
	}

	withNanos := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
	if err := tr.SetStartTime(withNanos); err != nil {
		t.Fatalf("SetStartTime() error = %v", err)
	}
	if tr.StartTime().Nanosecond() != 0 {
		t.Errorf("start time nanoseconds = %d, want 0", tr.StartTime().Nanosecond())
	}

	// SimpleTrigger keeps sub-second precision.
	st := newTestTrigger(t, "t1")
	if err := st.SetStartTime(withNanos); err != nil {
		t.Fatalf("SetStartTime() error = %v", err)
	}
	if st.StartTime().Nanosecond() == 0 {
		t.Error("simple trigger should keep sub-second precision")
	}
}

func TestTriggerComparator(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	a := newTestTrigger(t, "a")
	a.SetNextFireTime(time.Time{})
	b := newTestTrigger(t, "b")
	b.SetNextFireTime(t1)
	c := newTestTrigger(t, "c")
	c.SetNextFireTime(t2)

	if got := CompareTriggers(b, c); got >= 0 {
		t.Errorf("CompareTriggers(b, c) = %d, want < 0", got)
	}
	if got := CompareTriggers(b, a); got >= 0 {
		t.Errorf("trigger with a fire time should sort before one without, got %d", got)
	}
	if got := CompareTriggers(a, b); got <= 0 {
		t.Errorf("trigger without a fire time should sort last, got %d", got)
	}
	if got := CompareTriggers(a, a); got != 0 {
		t.Errorf("CompareTriggers(a, a) = %d, want 0", got)
	}

	triggers := []Trigger{a, c, b}
	SortByFireTime(triggers)
	want := []string{"b", "c", "a"}
	for i, tr := range triggers {
		if tr.Key().Name != want[i] {
			t.Errorf("sorted[%d] = %s, want %s", i, tr.Key().Name, want[i])
		}
	}
}

func TestTriggerEquality(t *testing.T) {
	a := newTestTrigger(t, "same")
	b := newTestTrigger(t, "same")
	c := newTestTrigger(t, "other")

	if !a.Equals(b) {
		t.Error("triggers with the same key should be equal")
	}
	if a.Equals(c) {
		t.Error("triggers with different names should not be equal")
	}
	if a.Key().Hash() != b.Key().Hash() {
		t.Error("equal triggers must have equal hashes")
	}
}

func TestTriggerClone(t *testing.T) {
	orig := newTestTrigger(t, "orig")
	orig.AddTriggerListener("audit")
	orig.JobDataMap().Put("count", 7)

	clone := orig.Clone().(*SimpleTrigger)

	if !orig.Equals(clone) {
		t.Fatal("clone should compare equal to the original")
	}

	// Mutating the clone must not touch the original.
	if err := clone.SetName("mutated"); err != nil {
		t.Fatalf("SetName() error = %v", err)
	}
	clone.AddTriggerListener("extra")
	clone.JobDataMap().Put("count", 99)

	if orig.Key().Name != "orig" {
		t.Errorf("original name changed to %q", orig.Key().Name)
	}
	if len(orig.ListenerNames()) != 1 {
		t.Errorf("original listener list changed: %v", orig.ListenerNames())
	}
	if got := orig.JobDataMap().GetInt("count"); got != 7 {
		t.Errorf("original data map changed: count = %d", got)
	}
}

func TestTriggerListenerList(t *testing.T) {
	tr := newTestTrigger(t, "t1")

	if tr.RemoveTriggerListener("absent") {
		t.Error("removing an absent listener should report false")
	}

	tr.AddTriggerListener("first")
	tr.AddTriggerListener("second")
	tr.AddTriggerListener("first")

	if got := tr.ListenerNames(); len(got) != 3 || got[0] != "first" || got[1] != "second" {
		t.Errorf("listener order = %v", got)
	}

	if !tr.RemoveTriggerListener("first") {
		t.Error("removing a present listener should report true")
	}
	got := tr.ListenerNames()
	if len(got) != 2 || got[0] != "second" || got[1] != "first" {
		t.Errorf("after removal, listeners = %v, want [second first]", got)
	}
}

func TestTriggerValidate(t *testing.T) {
	tr := newTestTrigger(t, "t1")
	if err := tr.Validate(); err != nil {
		t.Errorf("complete trigger should validate, got %v", err)
	}

	incomplete, err := NewSimpleTrigger("t2", "g", time.Now(), 0, 0)
	if err != nil {
		t.Fatalf("NewSimpleTrigger() error = %v", err)
	}
	err = incomplete.Validate()
	if err == nil {
		t.Fatal("trigger without a job should not validate")
	}
	var se *SchedulerError
	if !errors.As(err, &se) || se.Kind != ErrKindClient {
		t.Errorf("validate error should be a client scheduler error, got %v", err)
	}
}

func TestSetMisfireInstruction(t *testing.T) {
	simple := newTestTrigger(t, "t1")
	for instr := MisfireSmartPolicy; instr <= SimpleMisfireRescheduleNextWithExistingCount; instr++ {
		if err := simple.SetMisfireInstruction(instr); err != nil {
			t.Errorf("SetMisfireInstruction(%d) error = %v", instr, err)
		}
	}
	if err := simple.SetMisfireInstruction(99); err == nil {
		t.Error("unknown misfire instruction should be rejected")
	}

	cron, err := NewCronTrigger("c1", "g", "@daily", time.UTC)
	if err != nil {
		t.Fatalf("NewCronTrigger() error = %v", err)
	}
	if err := cron.SetMisfireInstruction(CronMisfireDoNothing); err != nil {
		t.Errorf("SetMisfireInstruction(DoNothing) error = %v", err)
	}
	if err := cron.SetMisfireInstruction(SimpleMisfireRescheduleNextWithExistingCount); err == nil {
		t.Error("simple-trigger code should be rejected by a cron trigger")
	}
}

func TestExecutionCompleteInstructionDerivation(t *testing.T) {
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name       string
		nextFire   time.Time
		jobErr     func() *JobExecutionError
		want       Instruction
	}{
		{
			name:     "clean run with remaining fires",
			nextFire: future,
			want:     InstructionNoop,
		},
		{
			name:     "clean run with exhausted schedule",
			nextFire: time.Time{},
			want:     InstructionDeleteTrigger,
		},
		{
			name:     "refire immediately wins",
			nextFire: future,
			jobErr: func() *JobExecutionError {
				e := NewJobExecutionError(errors.New("transient"))
				e.SetRefireImmediately(true)
				return e
			},
			want: InstructionReExecuteJob,
		},
		{
			name:     "unschedule firing trigger",
			nextFire: future,
			jobErr: func() *JobExecutionError {
				e := NewJobExecutionError(errors.New("fatal"))
				e.SetUnscheduleFiringTrigger(true)
				return e
			},
			want: InstructionSetTriggerComplete,
		},
		{
			name:     "unschedule all triggers",
			nextFire: future,
			jobErr: func() *JobExecutionError {
				e := NewJobExecutionError(errors.New("fatal"))
				e.SetUnscheduleAllTriggers(true)
				return e
			},
			want: InstructionSetAllJobTriggersComplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTrigger(t, "t1")
			tr.SetNextFireTime(tt.nextFire)
			var jobErr *JobExecutionError
			if tt.jobErr != nil {
				jobErr = tt.jobErr()
			}
			if got := tr.ExecutionComplete(nil, jobErr); got != tt.want {
				t.Errorf("ExecutionComplete() = %v, want %v", got, tt.want)
			}
		})
	}
}
