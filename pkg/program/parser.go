package program

import (
	"fmt"
	"strconv"
	"strings"

	"flock/pkg/types"
)

// Instruction is one decoded operation with its operand specifiers.
type Instruction struct {
	Op       Opcode
	Operands []Operand
}

// Program is an immutable sequence of instructions. Labels are parse
// time only; control transfers carry resolved instruction indices.
type Program struct {
	ops []Instruction
}

// At returns the instruction at index i, or false past the end.
func (p *Program) At(i types.Word) (*Instruction, bool) {
	if i >= types.Word(len(p.ops)) {
		return nil, false
	}
	return &p.ops[i], true
}

func (p *Program) Len() int {
	return len(p.ops)
}

// FromInstructions builds a program directly, for tests and tooling.
func FromInstructions(ops []Instruction) *Program {
	return &Program{ops: ops}
}

// Parse reads assembly text. One instruction per line; "#" starts a
// comment; ":name" alone on a line binds a label to the next
// instruction index; operands are separated by ", ".
func Parse(src string) (*Program, error) {
	var relevant []string
	for _, line := range strings.Split(src, "\n") {
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			relevant = append(relevant, line)
		}
	}

	// First pass: bind labels to instruction indices.
	labels := make(map[string]types.Word)
	seen := types.Word(0)
	for _, line := range relevant {
		if name, ok := strings.CutPrefix(line, ":"); ok {
			if _, dup := labels[name]; dup {
				return nil, fmt.Errorf("duplicate label: %s", name)
			}
			labels[name] = seen
		} else {
			seen++
		}
	}

	prog := &Program{ops: make([]Instruction, 0, seen)}
	for _, line := range relevant {
		if strings.HasPrefix(line, ":") {
			continue
		}

		command := line
		var args []string
		if cmd, rest, ok := strings.Cut(line, " "); ok {
			command = cmd
			args = strings.Split(rest, ", ")
		}

		m, ok := mnemonics[command]
		if !ok {
			return nil, fmt.Errorf("unknown command: %s", command)
		}
		if len(args) != m.Count {
			return nil, fmt.Errorf("%s takes %d operands, got %d", command, m.Count, len(args))
		}

		operands := make([]Operand, len(args))
		for i, arg := range args {
			op, err := parseOperand(arg, labels)
			if err != nil {
				return nil, fmt.Errorf("parsing %q: %w", arg, err)
			}
			operands[i] = op
		}
		prog.ops = append(prog.ops, Instruction{Op: m.Op, Operands: operands})
	}

	return prog, nil
}

func parseOperand(s string, labels map[string]types.Word) (Operand, error) {
	if name, ok := strings.CutPrefix(s, ":"); ok {
		target, ok := labels[name]
		if !ok {
			return Operand{}, fmt.Errorf("unknown label: %s", name)
		}
		return Operand{Kind: OperandLiteral, Value: target}, nil
	}

	if inner, found, err := indexedExpr("$pop", s); err != nil {
		return Operand{}, err
	} else if found {
		if inner == nil {
			return Operand{Kind: OperandPop}, nil
		}
		idx, err := parseOperand(*inner, labels)
		if err != nil {
			return Operand{}, err
		}
		return Operand{Kind: OperandPopIndex, Index: &idx}, nil
	}

	if s == "$peek" {
		return Operand{Kind: OperandPeek}, nil
	}

	if inner, found, err := indexedExpr("$mem", s); err != nil {
		return Operand{}, err
	} else if found {
		if inner == nil {
			return Operand{}, fmt.Errorf("$mem requires an index")
		}
		idx, err := parseOperand(*inner, labels)
		if err != nil {
			return Operand{}, err
		}
		return Operand{Kind: OperandMem, Index: &idx}, nil
	}

	if inner, found, err := indexedExpr("$gmem", s); err != nil {
		return Operand{}, err
	} else if found {
		if inner == nil {
			return Operand{}, fmt.Errorf("$gmem requires an index")
		}
		idx, err := parseOperand(*inner, labels)
		if err != nil {
			return Operand{}, err
		}
		return Operand{Kind: OperandGlobalMem, Index: &idx}, nil
	}

	if s == "$tid" {
		return Operand{Kind: OperandThreadID}, nil
	}

	v, err := parseLiteral(s)
	if err != nil {
		return Operand{}, err
	}
	return Operand{Kind: OperandLiteral, Value: v}, nil
}

func parseLiteral(s string) (types.Word, error) {
	if hex, ok := strings.CutPrefix(s, "0x"); ok {
		v, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing as hex: %q", hex)
		}
		return types.Word(v), nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse as literal value: %q", s)
	}
	return types.Word(v), nil
}

// indexedExpr matches "expr" (inner nil) or "expr[...]" (inner set).
// The outermost brackets must balance; nested specifiers keep theirs.
func indexedExpr(expr, s string) (inner *string, found bool, err error) {
	rest, ok := strings.CutPrefix(s, expr)
	if !ok {
		return nil, false, nil
	}
	if rest == "" {
		return nil, true, nil
	}
	without, ok := strings.CutPrefix(rest, "[")
	if !ok {
		return nil, false, nil
	}
	in, ok := strings.CutSuffix(without, "]")
	if !ok {
		return nil, false, fmt.Errorf("expected ']' at end of: %s", s)
	}
	return &in, true, nil
}
