package scheduler

import "time"

// FiredTriggerBundle is the packet the scheduler's decision loop hands to a
// run shell: the trigger that fired, its job detail, and the resolved
// fire-time metadata. The job store stamps FireInstanceID before handing
// the bundle out.
type FiredTriggerBundle struct {
	Trigger   OperableTrigger
	JobDetail *JobDetail
	Calendar  Calendar

	Recovering bool

	FireInstanceID    string
	ScheduledFireTime time.Time
	FireTime          time.Time
	PrevFireTime      time.Time
	NextFireTime      time.Time
}

// SchedulerHandle is the slice of the scheduler a job may see through its
// execution context.
type SchedulerHandle interface {
	SchedulerName() string
}

// JobExecutionContext is the per-fire bundle handed to the job, to
// listeners, and to the trigger's ExecutionComplete. It is owned by exactly
// one shell and must not be shared across firings, except that a
// RE_EXECUTE_JOB pass deliberately reuses it so the job can observe its own
// prior mutations.
type JobExecutionContext struct {
	scheduler   SchedulerHandle
	trigger     OperableTrigger
	jobDetail   *JobDetail
	jobInstance Job

	mergedJobDataMap *JobDataMap

	recovering     bool
	fireInstanceID string

	scheduledFireTime time.Time
	fireTime          time.Time
	prevFireTime      time.Time
	nextFireTime      time.Time

	refireCount int
	jobRunTime  time.Duration
	runTimeSet  bool

	result any
	data   map[string]any
}

// NewJobExecutionContext assembles the context for one firing decision.
// The merged data map layers the trigger's payload over the job's.
func NewJobExecutionContext(scheduler SchedulerHandle, bundle *FiredTriggerBundle, job Job) *JobExecutionContext {
	merged := NewJobDataMap()
	if bundle.JobDetail != nil {
		merged.PutAll(bundle.JobDetail.JobDataMap())
	}
	if bundle.Trigger != nil {
		merged.PutAll(bundle.Trigger.JobDataMap())
	}
	merged.ClearDirtyFlag()

	return &JobExecutionContext{
		scheduler:         scheduler,
		trigger:           bundle.Trigger,
		jobDetail:         bundle.JobDetail,
		jobInstance:       job,
		mergedJobDataMap:  merged,
		recovering:        bundle.Recovering,
		fireInstanceID:    bundle.FireInstanceID,
		scheduledFireTime: bundle.ScheduledFireTime,
		fireTime:          bundle.FireTime,
		prevFireTime:      bundle.PrevFireTime,
		nextFireTime:      bundle.NextFireTime,
		data:              make(map[string]any),
	}
}

func (c *JobExecutionContext) Scheduler() SchedulerHandle { return c.scheduler }
func (c *JobExecutionContext) Trigger() OperableTrigger   { return c.trigger }
func (c *JobExecutionContext) JobDetail() *JobDetail      { return c.jobDetail }
func (c *JobExecutionContext) JobInstance() Job           { return c.jobInstance }

// MergedJobDataMap is the job's payload for this firing: trigger entries
// shadow job entries.
func (c *JobExecutionContext) MergedJobDataMap() *JobDataMap {
	return c.mergedJobDataMap
}

// Recovering reports whether this firing is a recovery of one lost in a
// previous scheduler run.
func (c *JobExecutionContext) Recovering() bool { return c.recovering }

func (c *JobExecutionContext) FireInstanceID() string { return c.fireInstanceID }

// ScheduledFireTime is the instant the trigger intended; FireTime is when
// the scheduler actually delivered it.
func (c *JobExecutionContext) ScheduledFireTime() time.Time { return c.scheduledFireTime }
func (c *JobExecutionContext) FireTime() time.Time          { return c.fireTime }
func (c *JobExecutionContext) PreviousFireTime() time.Time  { return c.prevFireTime }
func (c *JobExecutionContext) NextFireTime() time.Time      { return c.nextFireTime }

// RefireCount is the number of immediate re-executions that preceded the
// current pass.
func (c *JobExecutionContext) RefireCount() int { return c.refireCount }

func (c *JobExecutionContext) incrementRefireCount() { c.refireCount++ }

// JobRunTime is the wall-clock duration of the most recent execution pass,
// and ok reports whether a pass has completed yet.
func (c *JobExecutionContext) JobRunTime() (d time.Duration, ok bool) {
	return c.jobRunTime, c.runTimeSet
}

func (c *JobExecutionContext) setJobRunTime(d time.Duration) {
	c.jobRunTime = d
	c.runTimeSet = true
}

// Result carries the job's output to was-executed listeners.
func (c *JobExecutionContext) Result() any     { return c.result }
func (c *JobExecutionContext) SetResult(r any) { c.result = r }

// Put stores a value visible to later passes and to listeners of this
// firing only.
func (c *JobExecutionContext) Put(key string, value any) {
	c.data[key] = value
}

// Value returns a value stored with Put.
func (c *JobExecutionContext) Value(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}
