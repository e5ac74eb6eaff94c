package vm

import (
	"log"

	"flock/pkg/fault"
	"flock/pkg/memory"
	"flock/pkg/program"
	"flock/pkg/types"
)

// opHandler executes one instruction whose operand specifiers have
// already been evaluated, in specifier order, into args.
type opHandler func(t *Thread, args []types.Word) StepOutcome

var dispatchTable [program.NumOpcodes]opHandler

// Populated in init to break the initialization cycle through Step.
func init() {
	dispatchTable = [program.NumOpcodes]opHandler{
		program.OpNop:          handleNop,
		program.OpPush:         handlePush,
		program.OpStore:        handleStore,
		program.OpStoreGlobal:  handleStoreGlobal,
		program.OpLoad:         handleLoad,
		program.OpAdd:          handleAdd,
		program.OpSub:          handleSub,
		program.OpMul:          handleMul,
		program.OpDiv:          handleDiv,
		program.OpShiftLeft:    handleShiftLeft,
		program.OpJump:         handleJump,
		program.OpJumpEq:       handleJumpEq,
		program.OpCompareSwap:  handleCompareSwap,
		program.OpFence:        handleFence,
		program.OpFork:         handleFork,
		program.OpJoin:         handleJoin,
		program.OpThreadFinish: handleThreadFinish,
		program.OpExit:         handleExit,
		program.OpAssertEq:     handleAssertEq,
		program.OpDebug:        handleDebug,
	}
}

// NOP's single operand is still evaluated, so "NOP $pop" discards the
// top of the stack.
func handleNop(t *Thread, args []types.Word) StepOutcome {
	return StepContinue
}

func handlePush(t *Thread, args []types.Word) StepOutcome {
	t.stack.Push(args[0])
	return StepContinue
}

func handleStore(t *Thread, args []types.Word) StepOutcome {
	if err := t.proc.mem.WriteWord(t.id, memory.AddressFromWord(args[0]), args[1]); err != nil {
		return faulted(err)
	}
	return StepContinue
}

func handleStoreGlobal(t *Thread, args []types.Word) StepOutcome {
	if err := t.proc.mem.WriteWord(t.id, memory.GlobalAddress(args[0]), args[1]); err != nil {
		return faulted(err)
	}
	return StepContinue
}

func handleLoad(t *Thread, args []types.Word) StepOutcome {
	v, err := t.proc.mem.ReadWord(t.id, memory.AddressFromWord(args[0]))
	if err != nil {
		return faulted(err)
	}
	t.stack.Push(v)
	return StepContinue
}

func handleAdd(t *Thread, args []types.Word) StepOutcome {
	t.stack.Push(args[0] + args[1])
	return StepContinue
}

func handleSub(t *Thread, args []types.Word) StepOutcome {
	t.stack.Push(args[0] - args[1])
	return StepContinue
}

func handleMul(t *Thread, args []types.Word) StepOutcome {
	t.stack.Push(args[0] * args[1])
	return StepContinue
}

func handleDiv(t *Thread, args []types.Word) StepOutcome {
	if args[1] == 0 {
		return faulted(fault.Errorf(fault.ArithmeticError, "division of %d by zero", args[0]))
	}
	t.stack.Push(args[0] / args[1])
	return StepContinue
}

func handleShiftLeft(t *Thread, args []types.Word) StepOutcome {
	t.stack.Push(args[0] << args[1])
	return StepContinue
}

func handleJump(t *Thread, args []types.Word) StepOutcome {
	if err := t.jumpTo(args[0]); err != nil {
		return faulted(err)
	}
	return StepContinue
}

func handleJumpEq(t *Thread, args []types.Word) StepOutcome {
	if args[0] == args[1] {
		if err := t.jumpTo(args[2]); err != nil {
			return faulted(err)
		}
	}
	return StepContinue
}

// CAS pushes 1 when the swap happened, 0 otherwise.
func handleCompareSwap(t *Thread, args []types.Word) StepOutcome {
	ok, err := t.proc.mem.CompareAndSwap(t.id, memory.AddressFromWord(args[0]), args[1], args[2])
	if err != nil {
		return faulted(err)
	}
	if ok {
		t.stack.Push(1)
	} else {
		t.stack.Push(0)
	}
	return StepContinue
}

func handleFence(t *Thread, args []types.Word) StepOutcome {
	t.proc.mem.Fence()
	return StepContinue
}

// FORK copies the parent's stack and local memory into a new thread,
// pushes the parent's id onto the copy, starts the child at the target
// and pushes the child's id onto the parent. The parent never blocks.
func handleFork(t *Thread, args []types.Word) StepOutcome {
	target := args[0]
	if target >= types.Word(t.proc.program.Len()) {
		return faulted(fault.Errorf(fault.InvalidAddress, "fork outside of program range: %d >= %d", target, t.proc.program.Len()))
	}

	childStack := t.stack.Clone()
	childStack.Push(types.Word(t.id))

	childID, err := t.proc.spawn(t, target, childStack)
	if err != nil {
		return faulted(err)
	}

	t.stack.Push(types.Word(childID))
	return StepContinue
}

// JOIN suspends the thread; the host (Run's per-thread goroutine or an
// external ExecuteStep driver) resumes it with the target's result on
// the stack once the target finishes.
func handleJoin(t *Thread, args []types.Word) StepOutcome {
	return blockedOn(types.ThreadID(args[0]))
}

func handleThreadFinish(t *Thread, args []types.Word) StepOutcome {
	return finished(args[0])
}

func handleExit(t *Thread, args []types.Word) StepOutcome {
	return exited(args[0])
}

func handleAssertEq(t *Thread, args []types.Word) StepOutcome {
	if args[0] != args[1] {
		return faulted(fault.Errorf(fault.AssertionFailure, "expected %d to equal %d", args[0], args[1]))
	}
	return StepContinue
}

func handleDebug(t *Thread, args []types.Word) StepOutcome {
	t.proc.debugMu.Lock()
	defer t.proc.debugMu.Unlock()

	log.Printf("thread %d stack:", t.id)
	for i := len(t.stack) - 1; i >= 0; i-- {
		log.Printf("  %03d: 0x%016x (%d)", len(t.stack)-1-i, t.stack[i], t.stack[i])
	}
	return StepContinue
}
