package job

import (
	"errors"
	"fmt"
	"os"
)

// FatalError is an unrecovered failure that reached a job boundary.
type FatalError struct {
	JobID string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("job %s: fatal: %v", e.JobID, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// ShutdownError records a termination signal delivered to a job.
type ShutdownError struct {
	JobID  string
	Signal os.Signal
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("job %s: shutdown on %v", e.JobID, e.Signal)
}

// ExitCode maps a terminal cause to a process exit code:
// 0 for nil and shutdown signals, 1 for anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *ShutdownError
	if errors.As(err, &se) {
		return 0
	}
	return 1
}
