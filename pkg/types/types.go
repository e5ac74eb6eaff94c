package types

// Word is the 8-byte storage unit: the atomic granule of memory, the
// element type of operand stacks and the value every instruction
// operand evaluates to.
type Word uint64

// WordSize is the size of a Word in bytes. Allocation sizes and word
// addresses are always multiples of WordSize.
const WordSize Word = 8

// ThreadID identifies a thread within a process. Ids are assigned
// monotonically and never reused while a reference to the thread (for
// example a pending JOIN) still exists. A ThreadID fits in a Word so
// programs can push it on the operand stack.
type ThreadID Word
