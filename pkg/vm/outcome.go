package vm

import (
	"flock/pkg/types"
)

// StepOutcomeKind classifies the result of executing one instruction.
type StepOutcomeKind int

const (
	// OutcomeContinue means the thread can keep stepping.
	OutcomeContinue StepOutcomeKind = iota
	// OutcomeBlocked means the thread is waiting on a JOIN target and
	// consumes no instruction slots until the target finishes.
	OutcomeBlocked
	// OutcomeFinished means the thread reached THREAD_FINISH; its
	// result is claimable by exactly one JOIN.
	OutcomeFinished
	// OutcomeExited means the thread executed EXIT, terminating the
	// whole process with the given status.
	OutcomeExited
	// OutcomeFaulted means an unrecoverable fault, fatal to the process.
	OutcomeFaulted
)

// StepOutcome is the scheduling interface between the engine and its
// host: the host learns from each step whether the thread continues,
// blocks, terminates or faults, and may place the next step anywhere.
type StepOutcome struct {
	Kind   StepOutcomeKind
	Value  types.Word     // result for Finished, status for Exited
	Target types.ThreadID // JOIN target for Blocked
	Fault  error          // cause for Faulted
}

// StepContinue is the common nothing-special outcome.
var StepContinue = StepOutcome{Kind: OutcomeContinue}

func blockedOn(target types.ThreadID) StepOutcome {
	return StepOutcome{Kind: OutcomeBlocked, Target: target}
}

func finished(v types.Word) StepOutcome {
	return StepOutcome{Kind: OutcomeFinished, Value: v}
}

func exited(status types.Word) StepOutcome {
	return StepOutcome{Kind: OutcomeExited, Value: status}
}

func faulted(err error) StepOutcome {
	return StepOutcome{Kind: OutcomeFaulted, Fault: err}
}
