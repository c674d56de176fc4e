package client

import (
	"context"
	"errors"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"order-fulfillment-engine/order-processing/engine"
	"order-fulfillment-engine/order-processing/types"
	"order-fulfillment-engine/order-processing/workflows"
)

var _ Backend = (*TemporalBackend)(nil)

// TemporalBackend runs orders on a Temporal cluster.
type TemporalBackend struct {
	Client    client.Client
	TaskQueue string
}

func (b *TemporalBackend) Start(ctx context.Context, workflowID string, input types.OrderInput) error {
	_, err := b.Client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       workflowID,
		TaskQueue:                                b.TaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.WorkflowName, input)
	if err == nil {
		return nil
	}

	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		if b.closed(ctx, workflowID) {
			return engine.ErrAlreadyClosed
		}
		return engine.ErrAlreadyStarted
	}
	return mapError(err)
}

// Signal refuses signals the order is not waiting for. Temporal would
// buffer them instead.
func (b *TemporalBackend) Signal(ctx context.Context, workflowID, name, payload string) error {
	st, err := b.Status(ctx, workflowID)
	if err != nil {
		return err
	}
	if !st.AwaitingReview {
		return engine.ErrNotWaiting
	}
	return mapError(b.Client.SignalWorkflow(ctx, workflowID, "", name, payload))
}

func (b *TemporalBackend) Status(ctx context.Context, workflowID string) (types.OrderWorkflowStatus, error) {
	val, err := b.Client.QueryWorkflow(ctx, workflowID, "", workflows.QueryStatus)
	if err != nil {
		return types.OrderWorkflowStatus{}, mapError(err)
	}
	var st types.OrderWorkflowStatus
	if err := val.Get(&st); err != nil {
		return types.OrderWorkflowStatus{}, err
	}
	return st, nil
}

func (b *TemporalBackend) Result(ctx context.Context, workflowID string) (types.OrderResult, error) {
	var res types.OrderResult
	err := b.Client.GetWorkflow(ctx, workflowID, "").Get(ctx, &res)
	return res, mapError(err)
}

func (b *TemporalBackend) closed(ctx context.Context, workflowID string) bool {
	resp, err := b.Client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return false
	}
	return resp.GetWorkflowExecutionInfo().GetStatus() != enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING
}

func mapError(err error) error {
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return engine.ErrNotFound
	}
	return err
}
