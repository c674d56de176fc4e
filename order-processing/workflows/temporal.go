package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"order-fulfillment-engine/order-processing/engine"
	"order-fulfillment-engine/order-processing/types"
)

type temporalRuntime struct {
	ctx    workflow.Context
	queues map[string]string
	status types.OrderWorkflowStatus
}

// newTemporalRuntime applies opts to ctx and serves the status snapshot
// through the QueryStatus handler. Activities named in queues are sent to
// that task queue instead of the workflow's.
func newTemporalRuntime(ctx workflow.Context, opts engine.ActivityOptions, queues map[string]string) (*temporalRuntime, error) {
	timeout := opts.StartToCloseTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         opts.RetryPolicy,
	})

	r := &temporalRuntime{ctx: ctx, queues: queues}
	err := workflow.SetQueryHandler(ctx, QueryStatus, func() (types.OrderWorkflowStatus, error) {
		return r.status, nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *temporalRuntime) WorkflowID() string    { return workflow.GetInfo(r.ctx).WorkflowExecution.ID }
func (r *temporalRuntime) Now() time.Time        { return workflow.Now(r.ctx) }
func (r *temporalRuntime) GetLogger() log.Logger { return workflow.GetLogger(r.ctx) }

func (r *temporalRuntime) ExecuteActivity(name string, input, result any) error {
	actx := r.ctx
	if queue := r.queues[name]; queue != "" {
		actx = workflow.WithTaskQueue(actx, queue)
	}
	err := workflow.ExecuteActivity(actx, name, input).Get(r.ctx, result)
	var actErr *temporal.ActivityError
	if errors.As(err, &actErr) {
		msg := actErr.Error()
		if cause := errors.Unwrap(actErr); cause != nil {
			msg = cause.Error()
		}
		return &ActivityFailure{Activity: name, Message: msg}
	}
	return err
}

func (r *temporalRuntime) AwaitSignal(timeout time.Duration, names ...string) (engine.Signal, error) {
	timerCtx, cancelTimer := workflow.WithCancel(r.ctx)
	defer cancelTimer()

	var got engine.Signal
	selector := workflow.NewSelector(r.ctx)
	for _, name := range names {
		name := name
		selector.AddReceive(workflow.GetSignalChannel(r.ctx, name), func(ch workflow.ReceiveChannel, more bool) {
			var payload string
			ch.Receive(r.ctx, &payload)
			got = engine.Signal{Name: name, Payload: payload}
		})
	}
	if timeout > 0 {
		selector.AddFuture(workflow.NewTimer(timerCtx, timeout), func(f workflow.Future) {
			got = engine.Signal{TimedOut: true}
		})
	}
	selector.Select(r.ctx)

	if err := r.ctx.Err(); err != nil {
		return engine.Signal{}, err
	}
	return got, nil
}

func (r *temporalRuntime) SetStatus(status types.OrderWorkflowStatus) error {
	r.status = status
	return nil
}
