package program

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"flock/pkg/types"
)

func lit(v uint64) Operand {
	return Operand{Kind: OperandLiteral, Value: types.Word(v)}
}

func TestParseBasicProgram(t *testing.T) {
	src := `
# push two values and add them
PUSH 1
PUSH 2
ADD $pop, $pop
EXIT $pop
`
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := []Instruction{
		{Op: OpPush, Operands: []Operand{lit(1)}},
		{Op: OpPush, Operands: []Operand{lit(2)}},
		{Op: OpAdd, Operands: []Operand{{Kind: OperandPop}, {Kind: OperandPop}}},
		{Op: OpExit, Operands: []Operand{{Kind: OperandPop}}},
	}
	if diff := cmp.Diff(want, prog.ops); diff != "" {
		t.Errorf("parsed program mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLabels(t *testing.T) {
	src := `
PUSH 0
:loop
ADD $pop, 1
JUMP_EQ $peek, 10, :done
JUMP :loop
:done
EXIT 0
`
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	// :loop binds to instruction 1, :done to instruction 4.
	jeq, _ := prog.At(2)
	if jeq.Operands[2] != lit(4) {
		t.Errorf("expected :done to resolve to 4, got %v", jeq.Operands[2])
	}
	jmp, _ := prog.At(3)
	if jmp.Operands[0] != lit(1) {
		t.Errorf("expected :loop to resolve to 1, got %v", jmp.Operands[0])
	}
}

func TestParseSpecifiers(t *testing.T) {
	src := "STORE_GLOBAL $pop[1], $mem[$gmem[$tid]]"
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	one := lit(1)
	tid := Operand{Kind: OperandThreadID}
	gmem := Operand{Kind: OperandGlobalMem, Index: &tid}
	want := []Instruction{
		{Op: OpStoreGlobal, Operands: []Operand{
			{Kind: OperandPopIndex, Index: &one},
			{Kind: OperandMem, Index: &gmem},
		}},
	}
	if diff := cmp.Diff(want, prog.ops); diff != "" {
		t.Errorf("parsed specifiers mismatch (-want +got):\n%s", diff)
	}
}

func TestParseHexLiteral(t *testing.T) {
	prog, err := Parse("PUSH 0x8000000000000000")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	instr, _ := prog.At(0)
	if instr.Operands[0].Value != 1<<63 {
		t.Errorf("expected 1<<63, got 0x%x", instr.Operands[0].Value)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"unknown command", "FROB 1", "unknown command"},
		{"wrong arity", "ADD 1", "takes 2 operands"},
		{"duplicate label", ":a\nPUSH 1\n:a\nEXIT 0", "duplicate label"},
		{"unknown label", "JUMP :nowhere", "unknown label"},
		{"bad literal", "PUSH banana", "literal"},
		{"unterminated index", "LOAD $mem[0", "expected ']'"},
		{"missing index", "LOAD $mem", "requires an index"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.src)
			if err == nil {
				t.Fatal("expected a parse error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestParseCommentsAndBlankLines(t *testing.T) {
	src := "# a full-line comment\n\nPUSH 7 # trailing comment\n\nEXIT $pop\n"
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if prog.Len() != 2 {
		t.Errorf("expected 2 instructions, got %d", prog.Len())
	}
}

func TestOpcodeString(t *testing.T) {
	if got := OpStoreGlobal.String(); got != "STORE_GLOBAL" {
		t.Errorf("expected STORE_GLOBAL, got %s", got)
	}
}
