package client

import (
	"context"
	"encoding/json"
	"fmt"

	"order-fulfillment-engine/order-processing/engine"
	"order-fulfillment-engine/order-processing/types"
	"order-fulfillment-engine/order-processing/workflows"
)

var _ Backend = (*EngineBackend)(nil)

// EngineBackend runs orders on the embedded engine. The engine may be a
// client-only engine sharing its store with workers.
type EngineBackend struct {
	Engine *engine.Engine
}

func (b *EngineBackend) Start(ctx context.Context, workflowID string, input types.OrderInput) error {
	_, err := b.Engine.StartWorkflow(ctx, engine.StartOptions{ID: workflowID, Workflow: workflows.WorkflowName}, input)
	return err
}

func (b *EngineBackend) Signal(ctx context.Context, workflowID, name, payload string) error {
	return b.Engine.Signal(ctx, workflowID, name, payload)
}

func (b *EngineBackend) Status(ctx context.Context, workflowID string) (types.OrderWorkflowStatus, error) {
	exec, err := b.Engine.GetStatus(ctx, workflowID)
	if err != nil {
		return types.OrderWorkflowStatus{}, err
	}
	var st types.OrderWorkflowStatus
	if len(exec.Status) > 0 {
		if err := json.Unmarshal(exec.Status, &st); err != nil {
			return types.OrderWorkflowStatus{}, fmt.Errorf("decode status: %w", err)
		}
	}
	if exec.State == engine.StateFailed {
		st.Status = types.StatusFailed
		st.LastError = exec.Error
	}
	return st, nil
}

func (b *EngineBackend) Result(ctx context.Context, workflowID string) (types.OrderResult, error) {
	var res types.OrderResult
	err := b.Engine.GetHandle(workflowID).Get(ctx, &res)
	return res, err
}
