package scheduler

// Instruction is what a trigger tells the run shell to do after an
// execution pass. The integer values are a stable contract between trigger
// implementations and the shell/store; never renumber them.
type Instruction int

const (
	// InstructionNoop proceeds normally.
	InstructionNoop Instruction = 0
	// InstructionReExecuteJob re-runs the job immediately on the same
	// worker, preserving the execution context.
	InstructionReExecuteJob Instruction = 1
	// InstructionSetTriggerComplete marks this trigger COMPLETE.
	InstructionSetTriggerComplete Instruction = 2
	// InstructionDeleteTrigger removes this trigger from the store.
	InstructionDeleteTrigger Instruction = 3
	// InstructionSetAllJobTriggersComplete marks every trigger of the job
	// COMPLETE.
	InstructionSetAllJobTriggersComplete Instruction = 4
	// InstructionSetTriggerError marks this trigger ERROR.
	InstructionSetTriggerError Instruction = 5
	// InstructionSetAllJobTriggersError marks every trigger of the job
	// ERROR.
	InstructionSetAllJobTriggersError Instruction = 6
)

func (i Instruction) String() string {
	switch i {
	case InstructionNoop:
		return "NOOP"
	case InstructionReExecuteJob:
		return "RE_EXECUTE_JOB"
	case InstructionSetTriggerComplete:
		return "SET_TRIGGER_COMPLETE"
	case InstructionDeleteTrigger:
		return "DELETE_TRIGGER"
	case InstructionSetAllJobTriggersComplete:
		return "SET_ALL_JOB_TRIGGERS_COMPLETE"
	case InstructionSetTriggerError:
		return "SET_TRIGGER_ERROR"
	case InstructionSetAllJobTriggersError:
		return "SET_ALL_JOB_TRIGGERS_ERROR"
	default:
		return "UNKNOWN"
	}
}
