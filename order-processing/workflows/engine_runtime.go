package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/log"

	"order-fulfillment-engine/order-processing/engine"
	"order-fulfillment-engine/order-processing/types"
)

type engineRuntime struct {
	ctx  *engine.Context
	opts engine.ActivityOptions
}

// NewEngineRuntime runs workflow code on the embedded engine.
func NewEngineRuntime(ctx *engine.Context, opts engine.ActivityOptions) Runtime {
	return &engineRuntime{ctx: ctx, opts: opts}
}

func (r *engineRuntime) WorkflowID() string    { return r.ctx.WorkflowID() }
func (r *engineRuntime) Now() time.Time        { return r.ctx.Now() }
func (r *engineRuntime) GetLogger() log.Logger { return r.ctx.GetLogger() }

func (r *engineRuntime) ExecuteActivity(name string, input, result any) error {
	err := r.ctx.ExecuteActivity(r.opts, name, input, result)
	var actErr *engine.ActivityError
	if errors.As(err, &actErr) {
		return &ActivityFailure{Activity: name, Message: actErr.Message}
	}
	return err
}

func (r *engineRuntime) AwaitSignal(timeout time.Duration, names ...string) (engine.Signal, error) {
	return r.ctx.AwaitSignal(timeout, names...)
}

func (r *engineRuntime) SetStatus(status types.OrderWorkflowStatus) error {
	return r.ctx.SetStatus(status)
}
