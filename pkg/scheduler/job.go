package scheduler

import (
	"context"
	"fmt"
	"strings"
)

// Job is the unit of work a trigger fires. Execute runs on a worker
// goroutine owned by the shell; a stateful job is never executed
// concurrently with itself.
//
// Returning a *JobExecutionError lets the job steer its triggers (refire,
// unschedule). Any other error, and any panic, is treated as an unexpected
// failure and reported to scheduler listeners.
type Job interface {
	Execute(ctx context.Context, jec *JobExecutionContext) error
}

// JobConstructor builds a fresh job instance for one firing.
type JobConstructor func() Job

// JobDetail describes a schedulable job: identity, payload, and execution
// properties. Triggers reference it by key.
type JobDetail struct {
	key         Key
	description string
	ctor        JobConstructor

	jobDataMap *JobDataMap

	volatility       bool
	durability       bool
	stateful         bool
	requestsRecovery bool

	listenerNames []string
}

// NewJobDetail builds a job detail for the given identity and constructor.
func NewJobDetail(name, group string, ctor JobConstructor) (*JobDetail, error) {
	d := &JobDetail{ctor: ctor}
	if err := d.SetName(name); err != nil {
		return nil, err
	}
	if err := d.SetGroup(group); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *JobDetail) Key() Key            { return d.key }
func (d *JobDetail) Description() string { return d.description }

// Constructor returns the job constructor, or nil if none was configured.
func (d *JobDetail) Constructor() JobConstructor { return d.ctor }

// SetName rejects empty names.
func (d *JobDetail) SetName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("job name cannot be empty: %w", ErrInvalidArgument)
	}
	d.key.Name = name
	return nil
}

// SetGroup substitutes the default group for an empty value and rejects
// whitespace-only groups.
func (d *JobDetail) SetGroup(group string) error {
	if group == "" {
		d.key.Group = DefaultGroup
		return nil
	}
	if strings.TrimSpace(group) == "" {
		return fmt.Errorf("job group cannot be blank: %w", ErrInvalidArgument)
	}
	d.key.Group = group
	return nil
}

func (d *JobDetail) SetDescription(s string) { d.description = s }

// JobDataMap returns the job's payload map, constructing it lazily.
func (d *JobDetail) JobDataMap() *JobDataMap {
	if d.jobDataMap == nil {
		d.jobDataMap = NewJobDataMap()
	}
	return d.jobDataMap
}

func (d *JobDetail) SetJobDataMap(m *JobDataMap) { d.jobDataMap = m }

func (d *JobDetail) Volatile() bool             { return d.volatility }
func (d *JobDetail) SetVolatile(v bool)         { d.volatility = v }
func (d *JobDetail) Durable() bool              { return d.durability }
func (d *JobDetail) SetDurable(v bool)          { d.durability = v }
func (d *JobDetail) Stateful() bool             { return d.stateful }
func (d *JobDetail) SetStateful(v bool)         { d.stateful = v }
func (d *JobDetail) RequestsRecovery() bool     { return d.requestsRecovery }
func (d *JobDetail) SetRequestsRecovery(v bool) { d.requestsRecovery = v }

// ListenerNames returns the ordered job-listener names.
func (d *JobDetail) ListenerNames() []string {
	out := make([]string, len(d.listenerNames))
	copy(out, d.listenerNames)
	return out
}

// AddJobListener appends a listener name; notification follows insertion
// order.
func (d *JobDetail) AddJobListener(name string) {
	d.listenerNames = append(d.listenerNames, name)
}

// RemoveJobListener removes the first occurrence of name and reports
// whether it was present.
func (d *JobDetail) RemoveJobListener(name string) bool {
	for i, n := range d.listenerNames {
		if n == name {
			d.listenerNames = append(d.listenerNames[:i], d.listenerNames[i+1:]...)
			return true
		}
	}
	return false
}

// Validate is the pre-scheduling gate for job details.
func (d *JobDetail) Validate() error {
	if d.key.Name == "" {
		return NewClientError("job's name cannot be empty")
	}
	if d.key.Group == "" {
		return NewClientError("job's group cannot be empty")
	}
	if d.ctor == nil {
		return NewClientError("job '%s' has no constructor", d.key.FullName())
	}
	return nil
}

// Clone produces an independent copy safe to hand to listeners.
func (d *JobDetail) Clone() *JobDetail {
	out := *d
	out.listenerNames = make([]string, len(d.listenerNames))
	copy(out.listenerNames, d.listenerNames)
	if d.jobDataMap != nil {
		out.jobDataMap = d.jobDataMap.Clone()
	}
	return &out
}

func (d *JobDetail) String() string {
	return fmt.Sprintf("JobDetail '%s': stateful=%v durable=%v requestsRecovery=%v",
		d.key.FullName(), d.stateful, d.durability, d.requestsRecovery)
}

// JobFactory produces the job instance for one firing. Failures are
// reported to scheduler listeners and abort the firing before any listener
// sees it.
type JobFactory interface {
	NewJob(bundle *FiredTriggerBundle) (Job, error)
}

// StdJobFactory builds jobs from the detail's constructor.
type StdJobFactory struct{}

func (StdJobFactory) NewJob(bundle *FiredTriggerBundle) (Job, error) {
	detail := bundle.JobDetail
	if detail == nil || detail.Constructor() == nil {
		return nil, &SchedulerError{
			Kind: ErrKindClient,
			Msg:  "job detail has no constructor",
		}
	}
	job := detail.Constructor()()
	if job == nil {
		return nil, &SchedulerError{
			Kind: ErrKindClient,
			Msg:  fmt.Sprintf("constructor for job '%s' produced nil", detail.Key().FullName()),
		}
	}
	return job, nil
}
