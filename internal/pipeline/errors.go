package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JacobLinCool/cpta/internal/workspace"
)

// TimeoutMessage is recorded whenever a command loses the race against its
// timer.
const TimeoutMessage = "Killed due to timeout."

// StageError reports an operation attempted before its precondition stage
// was reached. It is a caller error and never retried.
type StageError struct {
	Op        string
	Workspace string
	Have      workspace.Stage
	Need      workspace.Stage
}

func (e *StageError) Error() string {
	return fmt.Sprintf("cannot %s %s: workspace is at stage %s, need at least %s", e.Op, e.Workspace, e.Have, e.Need)
}

// BuildError reports a build command that exited non-zero.
type BuildError struct {
	Workspace string
	Code      int
	Stderr    string
}

func (e *BuildError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("build exited with code %d", e.Code)
	}
	return msg
}

// TimeoutError reports a command that did not finish in time.
type TimeoutError struct {
	Workspace string
	Op        string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return TimeoutMessage
}

// IsStageError reports whether err is or wraps a StageError.
func IsStageError(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}
