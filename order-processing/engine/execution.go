package engine

import (
	"encoding/json"
	"slices"
	"time"
)

// State is the lifecycle state of a workflow execution.
type State string

const (
	// StateRunning executions have work to do and are driven by a worker.
	StateRunning State = "running"
	// StateWaiting executions are parked until a signal or timer is recorded.
	StateWaiting   State = "waiting"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Closed reports whether s is terminal.
func (s State) Closed() bool {
	return s == StateCompleted || s == StateFailed
}

// Execution is the durable record of one workflow run, keyed by workflow id.
type Execution struct {
	WorkflowID   string          `json:"workflow_id"`
	WorkflowType string          `json:"workflow_type"`
	Input        json.RawMessage `json:"input"`
	State        State           `json:"state"`

	// WaitingOn holds the signal names a waiting execution accepts.
	WaitingOn []string `json:"waiting_on,omitempty"`
	// WaitCommand is the command number of the pending wait.
	WaitCommand int `json:"wait_command,omitempty"`
	// WakeAt is the deadline of the pending wait, if it has one.
	WakeAt *time.Time `json:"wake_at,omitempty"`

	// Status is the latest snapshot published by the workflow.
	Status json.RawMessage `json:"status,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	// Version increases on every write and guards concurrent updates.
	Version int64 `json:"version"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// Waits reports whether the execution is parked on signal name.
func (e *Execution) Waits(name string) bool {
	return e.State == StateWaiting && slices.Contains(e.WaitingOn, name)
}

// Clone returns a deep copy so callers cannot alias store state.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	c := *e
	c.Input = slices.Clone(e.Input)
	c.WaitingOn = slices.Clone(e.WaitingOn)
	c.Status = slices.Clone(e.Status)
	c.Result = slices.Clone(e.Result)
	if e.WakeAt != nil {
		t := *e.WakeAt
		c.WakeAt = &t
	}
	if e.ClosedAt != nil {
		t := *e.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// EventType identifies a history event.
type EventType string

const (
	EventActivityStarted   EventType = "activity_started"
	EventActivityCompleted EventType = "activity_completed"
	EventActivityFailed    EventType = "activity_failed"
	EventWaitStarted       EventType = "wait_started"
	EventSignalReceived    EventType = "signal_received"
	EventTimerFired        EventType = "timer_fired"
	EventMarkerRecorded    EventType = "marker_recorded"
)

// Event is one entry of an execution's append-only history. Command is
// the ordinal of the workflow call (activity, wait, marker) the event
// belongs to; replay matches calls to events by this number.
type Event struct {
	Seq        int64     `json:"seq"`
	WorkflowID string    `json:"workflow_id"`
	Type       EventType `json:"type"`
	Command    int       `json:"command"`

	// Name is the activity name, the received signal name, or the marker name.
	Name    string `json:"name,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	// Payload is JSON: activity input or result, signal payload, marker value,
	// or the accepted signal names of a wait.
	Payload json.RawMessage `json:"payload,omitempty"`

	Error        string `json:"error,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`
	NonRetryable bool   `json:"non_retryable,omitempty"`
	// Final marks the failure that ends an activity call.
	Final bool `json:"final,omitempty"`

	WakeAt    *time.Time `json:"wake_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Signal is an external input delivered to a waiting execution.
type Signal struct {
	Name     string `json:"name"`
	Payload  string `json:"payload"`
	TimedOut bool   `json:"timed_out,omitempty"`
}
