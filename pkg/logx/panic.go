package logx

import "fmt"

// PanicError wraps a value recovered from a panic together with the stack
// of the goroutine that raised it.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Recovered builds a PanicError for v. Call it directly from the deferred
// function that recovered v.
func Recovered(v any) *PanicError {
	return &PanicError{Value: v, Stack: StackTrace(4, 16)}
}
