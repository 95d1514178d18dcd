package pipeline

import (
	"errors"
	"fmt"
)

// ErrTimeout indicates a stage exceeded its configured timeout. It is
// reported in addition to the stage's own error so callers can tell a hung
// stage from a failed one.
var ErrTimeout = errors.New("stage timed out")

// StageError is returned by [Pipeline.Run] when a stage fails.
type StageError struct {
	Err   error
	Stage Stage
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage that produced err, if any.
func FailedStage(err error) (Stage, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}

	return 0, false
}
