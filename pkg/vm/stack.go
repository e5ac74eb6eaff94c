package vm

import (
	"flock/pkg/fault"
	"flock/pkg/types"
)

// Stack is a thread's operand stack of words. Instructions consume a
// fixed number of entries from the top and produce a fixed number; the
// checks here turn a shortfall into a StackUnderflow fault.
type Stack []types.Word

func (s *Stack) Push(w types.Word) {
	*s = append(*s, w)
}

func (s *Stack) Pop() (types.Word, error) {
	if len(*s) == 0 {
		return 0, fault.Errorf(fault.StackUnderflow, "pop from empty stack")
	}
	w := (*s)[len(*s)-1]
	*s = (*s)[:len(*s)-1]
	return w, nil
}

// RemoveAt removes and returns the entry depth slots below the top;
// depth 0 is the top itself.
func (s *Stack) RemoveAt(depth types.Word) (types.Word, error) {
	if depth >= types.Word(len(*s)) {
		return 0, fault.Errorf(fault.StackUnderflow, "remove at depth %d from stack of %d", depth, len(*s))
	}
	i := types.Word(len(*s)) - 1 - depth
	w := (*s)[i]
	*s = append((*s)[:i], (*s)[i+1:]...)
	return w, nil
}

func (s Stack) Peek() (types.Word, error) {
	if len(s) == 0 {
		return 0, fault.Errorf(fault.StackUnderflow, "peek of empty stack")
	}
	return s[len(s)-1], nil
}

func (s Stack) Depth() int {
	return len(s)
}

func (s Stack) Clone() Stack {
	dup := make(Stack, len(s))
	copy(dup, s)
	return dup
}
