package trap

import (
	"errors"
	"fmt"
)

// Code identifies the kind of failure raised by the memory operators.
type Code uint8

const (
	// InvalidModule the operator could not identify the module instance
	// which owns the memory.
	InvalidModule Code = iota + 1
	// MemoryOutOfBounds the requested size exceeds the page ceiling of the memory.
	MemoryOutOfBounds
	// AllocationFailure the host allocator could not provide the backing buffer.
	AllocationFailure
)

var (
	ErrInvalidModule     = &Error{Code: InvalidModule}
	ErrMemoryOutOfBounds = &Error{Code: MemoryOutOfBounds}
	ErrAllocationFailure = &Error{Code: AllocationFailure}
)

func (c Code) String() string {
	switch c {
	case InvalidModule:
		return "invalid module"
	case MemoryOutOfBounds:
		return "memory access out of bounds"
	case AllocationFailure:
		return "failed to allocate memory"
	default:
		return fmt.Sprintf("unknown trap code %d", uint8(c))
	}
}

/*
IsRange returns true when the code is reported to the embedder as a range
error rather than as a trap of the executing code. Failing to resolve the
owning instance is an internal consistency failure, not something the guest
program caused.
*/
func (c Code) IsRange() bool {
	return c == InvalidModule
}

/*
Error is the error returned by the memory operators. Use errors.Is with one
of the Err* sentinels to test for the kind of failure:

	if errors.Is(err, trap.ErrMemoryOutOfBounds) {
		...
	}
*/
type Error struct {
	Code Code
	Msg  string // optional details
	Err  error  // optional cause
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return e.Code.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a trap error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

/*
Raise returns trap error with given code. The caller must abort the current
operation and return the error to its caller unchanged.
*/
func Raise(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

/*
Wrap is like Raise but records "err" as the cause of the trap.
*/
func Wrap(code Code, err error, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

/*
CodeOf returns the trap code of the first trap error in the chain of "err"
or zero when "err" doesn't contain trap error.
*/
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return 0
}
