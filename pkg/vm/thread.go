package vm

import (
	"flock/pkg/fault"
	"flock/pkg/memory"
	"flock/pkg/program"
	"flock/pkg/types"
)

// Thread is one lightweight thread of a process: an instruction
// pointer, an operand stack and a private local memory space held by
// the process's address space manager. A thread is only ever stepped
// by one goroutine at a time.
type Thread struct {
	id    types.ThreadID
	ip    types.Word
	stack Stack
	proc  *Process
}

func (t *Thread) ID() types.ThreadID {
	return t.id
}

// IP returns the index of the next instruction to execute.
func (t *Thread) IP() types.Word {
	return t.ip
}

// Step fetches, decodes and executes a single instruction. Running off
// the end of the program is an implicit EXIT 0.
func (t *Thread) Step() StepOutcome {
	instr, ok := t.proc.program.At(t.ip)
	if !ok {
		return exited(0)
	}
	t.ip++

	args, err := t.evalOperands(instr.Operands)
	if err != nil {
		return faulted(err)
	}

	out := dispatchTable[instr.Op](t, args)

	if traceLogger != nil {
		traceLogger.Printf("tid=%d ip=%d op=%s depth=%d", t.id, t.ip, instr.Op, t.stack.Depth())
	}
	return out
}

func (t *Thread) evalOperands(specs []program.Operand) ([]types.Word, error) {
	args := make([]types.Word, len(specs))
	for i := range specs {
		v, err := t.eval(&specs[i])
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func (t *Thread) eval(spec *program.Operand) (types.Word, error) {
	switch spec.Kind {
	case program.OperandLiteral:
		return spec.Value, nil

	case program.OperandPop:
		return t.stack.Pop()
	case program.OperandPopIndex:
		depth, err := t.eval(spec.Index)
		if err != nil {
			return 0, err
		}
		return t.stack.RemoveAt(depth)

	case program.OperandPeek:
		return t.stack.Peek()

	case program.OperandMem:
		addr, err := t.eval(spec.Index)
		if err != nil {
			return 0, err
		}
		return t.proc.mem.ReadWord(t.id, memory.AddressFromWord(addr))
	case program.OperandGlobalMem:
		offset, err := t.eval(spec.Index)
		if err != nil {
			return 0, err
		}
		return t.proc.mem.ReadWord(t.id, memory.GlobalAddress(offset))

	case program.OperandThreadID:
		return types.Word(t.id), nil
	}
	return 0, fault.Errorf(fault.InvalidAddress, "invalid operand kind %d", spec.Kind)
}

// jumpTo validates and applies a control transfer.
func (t *Thread) jumpTo(target types.Word) error {
	if target >= types.Word(t.proc.program.Len()) {
		return fault.Errorf(fault.InvalidAddress, "jump outside of program range: %d >= %d", target, t.proc.program.Len())
	}
	t.ip = target
	return nil
}
