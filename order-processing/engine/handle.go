package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const defaultHandlePoll = 200 * time.Millisecond

// Handle refers to one workflow execution
type Handle struct {
	WorkflowID string
	engine     *Engine
}

// Get blocks until the execution closes and decodes its result into
// valuePtr, which may be nil. A failed execution returns *WorkflowError.
// Executions driven by another process are observed by polling the store.
func (h *Handle) Get(ctx context.Context, valuePtr any) error {
	poll := h.engine.opts.PollInterval
	if poll <= 0 {
		poll = defaultHandlePoll
	}
	ticker := h.engine.clock.Ticker(poll)
	defer ticker.Stop()

	for {
		closed := h.engine.subscribe(h.WorkflowID)
		exec, err := h.engine.store.GetExecution(ctx, h.WorkflowID)
		if err != nil {
			h.engine.unsubscribe(h.WorkflowID, closed)
			return fmt.Errorf("get result of %s: %w", h.WorkflowID, err)
		}
		if exec.State.Closed() {
			h.engine.unsubscribe(h.WorkflowID, closed)
			return decodeClosed(exec, valuePtr)
		}

		select {
		case <-ctx.Done():
			h.engine.unsubscribe(h.WorkflowID, closed)
			return ctx.Err()
		case <-closed:
		case <-ticker.C:
			h.engine.unsubscribe(h.WorkflowID, closed)
		}
	}
}

func decodeClosed(exec *Execution, valuePtr any) error {
	if exec.State == StateFailed {
		return &WorkflowError{WorkflowID: exec.WorkflowID, Message: exec.Error}
	}
	if valuePtr == nil || len(exec.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(exec.Result, valuePtr); err != nil {
		return fmt.Errorf("decode result of %s: %w", exec.WorkflowID, err)
	}
	return nil
}
