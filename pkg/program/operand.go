package program

import (
	"fmt"

	"flock/pkg/types"
)

// OperandKind selects where an instruction input comes from.
type OperandKind uint8

const (
	// OperandLiteral is a constant word, including resolved labels.
	OperandLiteral OperandKind = iota
	// OperandPop removes and yields the top of the operand stack.
	OperandPop
	// OperandPopIndex removes and yields the entry Index deep from the
	// top (0 is the top itself).
	OperandPopIndex
	// OperandPeek yields the top of the stack without removing it.
	OperandPeek
	// OperandMem yields the word at address Index, local or global
	// according to the address tag.
	OperandMem
	// OperandGlobalMem yields the word at offset Index of the global
	// space, regardless of the tag bit.
	OperandGlobalMem
	// OperandThreadID yields the executing thread's id.
	OperandThreadID
)

// Operand is a value specifier. Specifiers are evaluated left to right
// when the instruction executes, so a specifier that pops observes the
// effect of the specifiers before it.
type Operand struct {
	Kind  OperandKind
	Value types.Word // literal value for OperandLiteral
	Index *Operand   // inner specifier for PopIndex, Mem and GlobalMem
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandLiteral:
		return fmt.Sprintf("%d", o.Value)
	case OperandPop:
		return "$pop"
	case OperandPopIndex:
		return fmt.Sprintf("$pop[%s]", o.Index)
	case OperandPeek:
		return "$peek"
	case OperandMem:
		return fmt.Sprintf("$mem[%s]", o.Index)
	case OperandGlobalMem:
		return fmt.Sprintf("$gmem[%s]", o.Index)
	case OperandThreadID:
		return "$tid"
	}
	return "$invalid"
}
