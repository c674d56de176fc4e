package engine

import "context"

// ListOpts filters execution list queries.
type ListOpts struct {
	// States filters by execution state. Empty means all states.
	States []State
	// Limit is the maximum number of executions to return. Zero means no limit.
	Limit int
}

// TransitionFunc mutates exec in place and returns the event to append
// alongside the update, or nil. Returning an error aborts the transition.
type TransitionFunc func(exec *Execution) (*Event, error)

// Store defines the persistence contract of the engine.
type Store interface {
	// CreateExecution persists a new execution. It returns ErrAlreadyStarted
	// when an open execution has the same workflow id and ErrAlreadyClosed
	// when a closed one does.
	CreateExecution(ctx context.Context, exec *Execution) error

	// GetExecution returns the execution or ErrNotFound.
	GetExecution(ctx context.Context, workflowID string) (*Execution, error)

	// UpdateExecution overwrites the execution if its Version matches the
	// stored one, then increments exec.Version. A mismatch returns ErrConflict.
	UpdateExecution(ctx context.Context, exec *Execution) error

	// ListExecutions returns executions ordered by creation time.
	ListExecutions(ctx context.Context, opts ListOpts) ([]*Execution, error)

	// AppendEvent appends an event to the execution's history and sets its Seq.
	AppendEvent(ctx context.Context, event *Event) error

	// History returns the events of an execution in append order.
	History(ctx context.Context, workflowID string) ([]*Event, error)

	// Transition atomically loads the execution, applies fn, stores the
	// result with an incremented Version, and appends the returned event.
	Transition(ctx context.Context, workflowID string, fn TransitionFunc) error
}
