package runner

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrDuplicateJobIdentity = errors.New("duplicate job identity")
	ErrNotFound             = errors.New("runner not found")
)

// BodyError is a task body failure for one (job, target) pair. It is logged
// and published, never propagated to the job's fatal path.
type BodyError struct {
	JobID  string
	Target string
	Err    error
}

func (e *BodyError) Error() string {
	return fmt.Sprintf("job %s target %s: %v", e.JobID, e.Target, e.Err)
}

func (e *BodyError) Unwrap() error { return e.Err }
