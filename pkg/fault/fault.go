package fault

import (
	"errors"
	"fmt"
)

// Code classifies an execution fault. Every fault is fatal to the
// owning process; there is no user-level recovery primitive.
type Code int

const (
	StackUnderflow Code = iota
	InvalidAddress
	AccessViolation
	OutOfMemory
	ArithmeticError
	UnknownThread
	AssertionFailure
)

func (c Code) String() string {
	switch c {
	case StackUnderflow:
		return "stack underflow"
	case InvalidAddress:
		return "invalid address"
	case AccessViolation:
		return "access violation"
	case OutOfMemory:
		return "out of memory"
	case ArithmeticError:
		return "arithmetic error"
	case UnknownThread:
		return "unknown thread"
	case AssertionFailure:
		return "assertion failure"
	}
	return fmt.Sprintf("fault(%d)", int(c))
}

// Fault is a process-fatal execution error.
type Fault struct {
	Code    Code
	Message string
	Cause   error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.Cause
}

// Errorf creates a new fault with a formatted message.
func Errorf(code Code, format string, args ...interface{}) *Fault {
	return &Fault{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error as a fault.
func Wrap(err error, code Code, message string) *Fault {
	return &Fault{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Is reports whether err is (or wraps) a fault with the given code.
func Is(err error, code Code) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code == code
	}
	return false
}
