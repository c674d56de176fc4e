// Package client is the façade order intake uses to start, steer and
// observe order workflows, whichever engine runs them.
package client

import (
	"context"
	"fmt"
	"time"

	"order-fulfillment-engine/order-processing/types"
	"order-fulfillment-engine/order-processing/workflows"
)

// Backend runs order workflows. Implementations report engine errors with
// the engine package sentinels (ErrAlreadyStarted, ErrNotFound, ...).
type Backend interface {
	Start(ctx context.Context, workflowID string, input types.OrderInput) error
	Signal(ctx context.Context, workflowID, name, payload string) error
	Status(ctx context.Context, workflowID string) (types.OrderWorkflowStatus, error)
	Result(ctx context.Context, workflowID string) (types.OrderResult, error)
}

type Options struct {
	// ReviewTimeout is put on every started order. Zero waits for a
	// reviewer forever.
	ReviewTimeout time.Duration
}

type Client struct {
	backend Backend
	opts    Options
}

func New(backend Backend, opts Options) *Client {
	return &Client{backend: backend, opts: opts}
}

// StartOrderWorkflow starts the workflow of order and returns its id.
// The id derives from the order id, so a repeated start is rejected by the
// engine instead of creating a second execution.
func (c *Client) StartOrderWorkflow(ctx context.Context, order types.Order) (string, error) {
	if order.OrderID == "" {
		return "", &types.ValidationError{Msg: "order id is required"}
	}
	if order.TotalAmount == 0 && len(order.Items) > 0 {
		order.TotalAmount = types.TotalOf(order.Items)
	}
	workflowID := types.WorkflowIDFor(order.OrderID)
	if err := c.backend.Start(ctx, workflowID, types.InputFor(order, c.opts.ReviewTimeout)); err != nil {
		return "", fmt.Errorf("start order %s: %w", order.OrderID, err)
	}
	return workflowID, nil
}

// SubmitManualReviewDecision delivers a reviewer decision, "approved" or
// "rejected", to an order waiting for review.
func (c *Client) SubmitManualReviewDecision(ctx context.Context, workflowID, decision string) error {
	if decision != workflows.DecisionApproved && decision != workflows.DecisionRejected {
		return &types.ValidationError{Msg: fmt.Sprintf("unknown review decision %q", decision)}
	}
	if err := c.backend.Signal(ctx, workflowID, workflows.SignalManualReview, decision); err != nil {
		return fmt.Errorf("submit review decision: %w", err)
	}
	return nil
}

// CancelOrder cancels an order waiting for review.
func (c *Client) CancelOrder(ctx context.Context, workflowID, reason string) error {
	if err := c.backend.Signal(ctx, workflowID, workflows.SignalCancel, reason); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// GetOrderStatus returns the latest status snapshot of an order.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (types.OrderWorkflowStatus, error) {
	workflowID := types.WorkflowIDFor(orderID)
	st, err := c.backend.Status(ctx, workflowID)
	if err != nil {
		return types.OrderWorkflowStatus{}, fmt.Errorf("get status of order %s: %w", orderID, err)
	}
	if st.OrderID == "" {
		st.OrderID = orderID
	}
	if st.WorkflowID == "" {
		st.WorkflowID = workflowID
	}
	if st.Status == "" {
		st.Status = types.StatusPending
	}
	return st, nil
}

// WaitForResult blocks until the order reaches a terminal state.
func (c *Client) WaitForResult(ctx context.Context, orderID string) (types.OrderResult, error) {
	res, err := c.backend.Result(ctx, types.WorkflowIDFor(orderID))
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("wait for order %s: %w", orderID, err)
	}
	return res, nil
}
