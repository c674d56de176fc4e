package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/log"

	"order-fulfillment-engine/order-processing/engine"
	"order-fulfillment-engine/order-processing/types"
)

// Runtime is what the order workflow needs from whichever engine runs it.
// Implementations must be deterministic under replay.
type Runtime interface {
	WorkflowID() string
	Now() time.Time
	GetLogger() log.Logger

	// ExecuteActivity runs the named activity. An activity that failed
	// permanently or exhausted its retries is reported as *ActivityFailure;
	// any other error must be returned by the workflow unchanged.
	ExecuteActivity(name string, input, result any) error

	// AwaitSignal blocks until one of the named signals arrives or, when
	// timeout is positive, the timeout elapses.
	AwaitSignal(timeout time.Duration, names ...string) (engine.Signal, error)

	// SetStatus publishes the status snapshot served to readers.
	SetStatus(status types.OrderWorkflowStatus) error
}

// ActivityFailure is an activity call that ended in failure after the
// retry policy was applied.
type ActivityFailure struct {
	Activity string
	Message  string
}

func (f *ActivityFailure) Error() string {
	return fmt.Sprintf("%s failed: %s", f.Activity, f.Message)
}
