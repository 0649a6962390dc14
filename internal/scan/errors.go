package scan

import (
	"errors"
	"fmt"

	"siteintel/pkg/types"
)

// ErrRiskIntelTimeout marks a risk-intelligence run abandoned at its
// deadline. It is a task-level gap, never a scan failure.
var ErrRiskIntelTimeout = errors.New("risk intelligence deadline exceeded")

// ErrTooManyScans signals the concurrent-scan limit has been reached.
var ErrTooManyScans = errors.New("maximum concurrent scans reached")

// TaskFailure wraps one extraction task's error with its key. Task
// failures are logged and swallowed by the stage runner; they never
// abort sibling tasks or the scan.
type TaskFailure struct {
	Key types.DataPointKey
	Err error
}

func (f *TaskFailure) Error() string {
	return fmt.Sprintf("task %s: %v", f.Key, f.Err)
}

func (f *TaskFailure) Unwrap() error {
	return f.Err
}
