package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"order-fulfillment-engine/order-processing/activities"
	"order-fulfillment-engine/order-processing/engine"
	"order-fulfillment-engine/order-processing/types"
)

const (
	// WorkflowName is the registered type of the order workflow on both engines
	WorkflowName = "OrderFulfillmentWorkflow"

	// SignalManualReview carries the reviewer decision, "approved" or anything else
	SignalManualReview = "manual-review-decision"
	// SignalCancel cancels an order waiting for review. The payload is the reason.
	SignalCancel = "cancel-order"

	QueryStatus = "get-status"

	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// DefaultActivityOptions bounds every activity call of the order workflow
func DefaultActivityOptions() engine.ActivityOptions {
	return engine.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: types.NonRetryableErrorTypes,
		},
	}
}

// OrderFulfillment is the order state machine. The same definition runs on
// the embedded engine (Embedded) and on a Temporal worker (Execute).
type OrderFulfillment struct {
	ActivityOptions engine.ActivityOptions

	// TaskQueues routes activities, by name, to dedicated Temporal task
	// queues. The embedded engine runs every activity in process.
	TaskQueues map[string]string
}

func (w *OrderFulfillment) activityOptions() engine.ActivityOptions {
	if w == nil || (w.ActivityOptions.StartToCloseTimeout == 0 && w.ActivityOptions.RetryPolicy == nil) {
		return DefaultActivityOptions()
	}
	return w.ActivityOptions
}

// Embedded is the workflow function registered with the embedded engine.
func (w *OrderFulfillment) Embedded(ctx *engine.Context, input types.OrderInput) (types.OrderResult, error) {
	return w.Run(NewEngineRuntime(ctx, w.activityOptions()), input)
}

// Execute is the workflow function registered with a Temporal worker.
func (w *OrderFulfillment) Execute(ctx workflow.Context, input types.OrderInput) (types.OrderResult, error) {
	var queues map[string]string
	if w != nil {
		queues = w.TaskQueues
	}
	rt, err := newTemporalRuntime(ctx, w.activityOptions(), queues)
	if err != nil {
		return types.OrderResult{}, err
	}
	return w.Run(rt, input)
}

// RegisterEngine registers the workflow with an embedded engine.
func (w *OrderFulfillment) RegisterEngine(e *engine.Engine) {
	e.RegisterWorkflow(WorkflowName, engine.Workflow(w.Embedded))
}

// WorkflowRegistry is the registration surface of a Temporal worker.
type WorkflowRegistry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
}

// RegisterTemporal registers the workflow with a Temporal worker.
func (w *OrderFulfillment) RegisterTemporal(r WorkflowRegistry) {
	r.RegisterWorkflowWithOptions(w.Execute, workflow.RegisterOptions{Name: WorkflowName})
}

// Run drives one order to a terminal state. Business outcomes, including
// activities that exhausted their retries, end in a result; the returned
// error is reserved for the runtime (parking, shutdown, store failures).
func (w *OrderFulfillment) Run(rt Runtime, input types.OrderInput) (types.OrderResult, error) {
	r := &orderRun{
		rt:     rt,
		input:  input,
		logger: rt.GetLogger(),
		status: types.OrderWorkflowStatus{
			OrderID:    input.OrderID,
			WorkflowID: rt.WorkflowID(),
			Status:     types.StatusPending,
			StartedAt:  rt.Now(),
		},
	}
	r.logger.Info("Starting order fulfillment workflow", "orderID", input.OrderID)

	// Step 1: validate
	if err := r.transition(types.StatusValidating); err != nil {
		return types.OrderResult{}, err
	}
	var validation types.ValidateOrderResult
	failure, err := r.call(activities.ValidateOrderName, input, &validation)
	if err != nil {
		return types.OrderResult{}, err
	}
	if failure != nil {
		return r.finish(types.StatusFailed, types.PathValidationError, failure.Message, failure.Message)
	}
	if !validation.Valid {
		return r.finish(types.StatusRejected, types.PathValidationFail, validation.Reason, validation.Reason)
	}

	// Step 2: fraud assessment, with manual review for high risk orders
	if err := r.transition(types.StatusAssessingFraud); err != nil {
		return types.OrderResult{}, err
	}
	var fraud types.FraudAssessmentResult
	failure, err = r.call(activities.FraudAssessmentName, input, &fraud)
	if err != nil {
		return types.OrderResult{}, err
	}
	if failure != nil {
		return r.finish(types.StatusFailed, types.PathFraudError, failure.Message, failure.Message)
	}
	r.status.RiskScore = fraud.RiskScore
	r.status.RiskScored = true

	path := types.PathAutoApproved
	if fraud.RiskScore > activities.HighRiskThreshold {
		r.logger.Info("High risk order, requiring manual review", "orderID", input.OrderID, "riskScore", fraud.RiskScore)
		approved, result, err := r.manualReview()
		if err != nil || !approved {
			return result, err
		}
		path = types.PathManualApproved
	}

	// Step 3: inventory
	if err := r.transition(types.StatusCheckingInventory); err != nil {
		return types.OrderResult{}, err
	}
	var inventory types.InventoryCheckResult
	failure, err = r.call(activities.InventoryCheckName, input, &inventory)
	if err != nil {
		return types.OrderResult{}, err
	}
	if failure != nil {
		return r.finish(types.StatusFailed, types.PathInventoryError, failure.Message, failure.Message)
	}
	if !inventory.AllAvailable {
		r.logger.Info("Items not available, creating backorder", "orderID", input.OrderID, "unavailable", len(inventory.UnavailableItems))
		r.status.UnavailableItems = inventory.UnavailableItems
		if err := r.notify(types.NotifyBackorder, "Some items in your order are currently out of stock. We'll notify you when they become available."); err != nil {
			return types.OrderResult{}, err
		}
		return r.finish(types.StatusBackordered, types.PathBackorder, "Order placed on backorder due to insufficient stock", "")
	}

	// Step 4: payment
	if err := r.transition(types.StatusProcessingPayment); err != nil {
		return types.OrderResult{}, err
	}
	var payment types.PaymentResult
	failure, err = r.call(activities.ProcessPaymentName, input, &payment)
	if err != nil {
		return types.OrderResult{}, err
	}
	if failure != nil {
		return r.finish(types.StatusPaymentFailed, types.PathPaymentError, failure.Message, failure.Message)
	}
	if !payment.Success {
		r.logger.Info("Payment declined", "orderID", input.OrderID, "reason", payment.Reason)
		return r.finish(types.StatusPaymentFailed, types.PathPaymentDeclined, payment.Reason, payment.Reason)
	}
	r.status.TransactionID = payment.TransactionID

	// Step 5: shipping is best effort
	if err := r.transition(types.StatusReservingShipping); err != nil {
		return types.OrderResult{}, err
	}
	var shipping types.ShippingResult
	failure, err = r.call(activities.ReserveShippingName, input, &shipping)
	if err != nil {
		return types.OrderResult{}, err
	}
	if failure != nil {
		r.logger.Warn("Shipping reservation failed, but continuing", "orderID", input.OrderID, "error", failure.Message)
	} else {
		r.status.TrackingID = shipping.TrackingID
	}

	// Step 6: confirmation is non-critical
	if err := r.notify(types.NotifyOrderConfirmed, "Your order has been confirmed and is being processed."); err != nil {
		return types.OrderResult{}, err
	}

	r.logger.Info("Order fulfillment completed successfully", "orderID", input.OrderID)
	return r.finish(types.StatusCompleted, path, "Order processed successfully", "")
}

type orderRun struct {
	rt     Runtime
	input  types.OrderInput
	logger log.Logger
	status types.OrderWorkflowStatus
}

func (r *orderRun) transition(s types.OrderStatus) error {
	r.status.Status = s
	return r.rt.SetStatus(r.status)
}

// call runs an activity. A non-nil failure means the activity failed for
// good; err must be returned by the workflow.
func (r *orderRun) call(name string, input, result any) (*ActivityFailure, error) {
	err := r.rt.ExecuteActivity(name, input, result)
	var failure *ActivityFailure
	if errors.As(err, &failure) {
		r.logger.Warn("Activity failed", "orderID", r.input.OrderID, "activity", name, "error", failure.Message)
		r.status.LastError = failure.Error()
		return failure, nil
	}
	return nil, err
}

func (r *orderRun) notify(kind, message string) error {
	failure, err := r.call(activities.SendConfirmationName, types.NotificationInput{
		OrderID:    r.input.OrderID,
		CustomerID: r.input.CustomerID,
		Type:       kind,
		Message:    message,
	}, nil)
	if failure != nil {
		r.logger.Warn("Notification failed", "orderID", r.input.OrderID, "type", kind)
	}
	return err
}

// manualReview parks the order until a reviewer decides, the order is
// cancelled, or the review timeout fires. It returns approved when the
// order continues; otherwise result is terminal.
func (r *orderRun) manualReview() (approved bool, result types.OrderResult, err error) {
	r.status.Status = types.StatusManualReview
	r.status.AwaitingReview = true
	if err := r.rt.SetStatus(r.status); err != nil {
		return false, types.OrderResult{}, err
	}
	if err := r.notify(types.NotifyManualReview, "Your order is under review."); err != nil {
		return false, types.OrderResult{}, err
	}

	sig, err := r.rt.AwaitSignal(r.input.ReviewTimeout, SignalManualReview, SignalCancel)
	if err != nil {
		return false, types.OrderResult{}, err
	}
	r.status.AwaitingReview = false

	switch {
	case sig.TimedOut:
		r.logger.Info("Manual review expired", "orderID", r.input.OrderID)
		result, err = r.finish(types.StatusExpired, types.PathReviewExpired, "Manual review was not completed in time", "manual_review_timeout")
		return false, result, err

	case sig.Name == SignalCancel:
		r.logger.Info("Order cancelled during review", "orderID", r.input.OrderID, "reason", sig.Payload)
		if err := r.notify(types.NotifyOrderCancelled, "Your order has been cancelled."); err != nil {
			return false, types.OrderResult{}, err
		}
		msg := "Order cancelled"
		if sig.Payload != "" {
			msg += ": " + sig.Payload
		}
		result, err = r.finish(types.StatusCancelled, types.PathCancelled, msg, "cancelled")
		return false, result, err

	case sig.Payload == DecisionApproved:
		r.logger.Info("Manual review approved", "orderID", r.input.OrderID)
		r.status.ReviewDecision = sig.Payload
		return true, types.OrderResult{}, nil
	}

	r.logger.Info("Manual review rejected", "orderID", r.input.OrderID, "decision", sig.Payload)
	r.status.ReviewDecision = sig.Payload
	result, err = r.finish(types.StatusRejected, types.PathManualRejected, "Order rejected during manual review", "manual_review_"+sig.Payload)
	return false, result, err
}

// finish publishes the terminal status, reports metrics and builds the result.
func (r *orderRun) finish(status types.OrderStatus, path types.DecisionPath, message, failureReason string) (types.OrderResult, error) {
	r.status.Status = status
	r.status.DecisionPath = path
	r.status.Message = message
	r.status.AwaitingReview = false
	if err := r.rt.SetStatus(r.status); err != nil {
		return types.OrderResult{}, err
	}

	failure, err := r.call(activities.RecordOrderMetricsName, types.OrderOutcome{
		OrderID:       r.input.OrderID,
		CustomerTier:  r.input.CustomerTier,
		DecisionPath:  path,
		RiskScore:     r.status.RiskScore,
		RiskScored:    r.status.RiskScored,
		StartedAt:     r.status.StartedAt,
		FailureReason: failureReason,
	}, nil)
	if err != nil {
		return types.OrderResult{}, err
	}
	if failure != nil {
		r.logger.Warn("Order metrics not recorded", "orderID", r.input.OrderID)
	}

	return types.OrderResult{
		OrderID:       r.input.OrderID,
		Status:        status,
		DecisionPath:  path,
		RiskScore:     r.status.RiskScore,
		TransactionID: r.status.TransactionID,
		TrackingID:    r.status.TrackingID,
		Message:       message,
	}, nil
}
