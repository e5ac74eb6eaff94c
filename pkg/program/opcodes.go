package program

// Opcode identifies one instruction of the engine.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpPush
	OpStore
	OpStoreGlobal
	OpLoad
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpShiftLeft
	OpJump
	OpJumpEq
	OpCompareSwap
	OpFence
	OpFork
	OpJoin
	OpThreadFinish
	OpExit
	OpAssertEq
	OpDebug
)

// NumOpcodes sizes dispatch tables indexed by Opcode.
const NumOpcodes = int(OpDebug) + 1

// mnemonics maps assembly command names to opcodes and their fixed
// operand counts. Operand counts are checked at parse time so the
// interpreter's arity contract is statically known.
var mnemonics = map[string]struct {
	Op    Opcode
	Count int
}{
	"NOP":           {OpNop, 1},
	"PUSH":          {OpPush, 1},
	"STORE":         {OpStore, 2},
	"STORE_GLOBAL":  {OpStoreGlobal, 2},
	"LOAD":          {OpLoad, 1},
	"ADD":           {OpAdd, 2},
	"SUB":           {OpSub, 2},
	"MUL":           {OpMul, 2},
	"DIV":           {OpDiv, 2},
	"SHIFT_LEFT":    {OpShiftLeft, 2},
	"JUMP":          {OpJump, 1},
	"JUMP_EQ":       {OpJumpEq, 3},
	"CAS":           {OpCompareSwap, 3},
	"FENCE":         {OpFence, 0},
	"FORK":          {OpFork, 1},
	"JOIN":          {OpJoin, 1},
	"THREAD_FINISH": {OpThreadFinish, 1},
	"EXIT":          {OpExit, 1},
	"ASSERT_EQ":     {OpAssertEq, 2},
	"DEBUG":         {OpDebug, 0},
}

var opcodeNames = func() [NumOpcodes]string {
	var names [NumOpcodes]string
	for name, m := range mnemonics {
		names[m.Op] = name
	}
	return names
}()

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return "INVALID"
}
