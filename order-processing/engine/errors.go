package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no execution exists for a workflow id.
	ErrNotFound = errors.New("engine: workflow execution not found")

	// ErrAlreadyStarted is returned when an open execution already uses the workflow id.
	ErrAlreadyStarted = errors.New("engine: workflow execution already started")

	// ErrAlreadyClosed is returned when a closed execution already used the workflow id.
	ErrAlreadyClosed = errors.New("engine: workflow execution already closed")

	// ErrNotWaiting is returned when a signal targets an execution that is not waiting for it.
	ErrNotWaiting = errors.New("engine: workflow execution is not waiting for this signal")

	// ErrConflict is returned when an execution was modified concurrently.
	ErrConflict = errors.New("engine: concurrent modification of workflow execution")

	// ErrNonDeterministic is returned when a replay diverges from recorded history.
	ErrNonDeterministic = errors.New("engine: nondeterministic workflow")

	ErrUnknownWorkflow = errors.New("engine: workflow type not registered")
	ErrUnknownActivity = errors.New("engine: activity not registered")

	// ErrEngineStopped is returned by workflow calls interrupted by engine shutdown.
	ErrEngineStopped = errors.New("engine: stopped")
)

// errParked unwinds a workflow that is waiting for a signal.
var errParked = errors.New("engine: workflow parked waiting for signal")

// ActivityError is returned to workflow code when an activity failed
// permanently or exhausted its retry policy. The same value is produced
// on live execution and on replay.
type ActivityError struct {
	Activity     string
	Attempt      int
	Type         string
	Message      string
	NonRetryable bool
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %s failed after %d attempt(s): %s", e.Activity, e.Attempt, e.Message)
}

// WorkflowError is returned by Handle.Get for a failed execution.
type WorkflowError struct {
	WorkflowID string
	Message    string
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("workflow %s failed: %s", e.WorkflowID, e.Message)
}

// IsParked reports whether err unwound a workflow waiting for a signal.
// Workflow code does not need to check it; returning the error is enough.
func IsParked(err error) bool {
	return errors.Is(err, errParked)
}
