package types

import (
	"fmt"
	"time"
)

// CustomerTier classifies the customer placing an order
type CustomerTier string

const (
	TierStandard CustomerTier = "standard"
	TierNew      CustomerTier = "new"
	TierPremium  CustomerTier = "premium"
)

// OrderStatus is the position of an order in the fulfillment state machine
type OrderStatus string

const (
	StatusPending           OrderStatus = "pending"
	StatusValidating        OrderStatus = "validating"
	StatusAssessingFraud    OrderStatus = "assessing_fraud"
	StatusManualReview      OrderStatus = "manual_review"
	StatusCheckingInventory OrderStatus = "checking_inventory"
	StatusProcessingPayment OrderStatus = "processing_payment"
	StatusReservingShipping OrderStatus = "reserving_shipping"
	StatusCompleted         OrderStatus = "completed"
	StatusRejected          OrderStatus = "rejected"
	StatusBackordered       OrderStatus = "backordered"
	StatusPaymentFailed     OrderStatus = "payment_failed"
	StatusCancelled         OrderStatus = "cancelled"
	StatusExpired           OrderStatus = "expired"
	StatusFailed            OrderStatus = "failed"
)

// Terminal reports whether no further transitions can happen from s
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusBackordered, StatusPaymentFailed,
		StatusCancelled, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// DecisionPath is the classification tag describing how an order concluded
type DecisionPath string

const (
	PathAutoApproved    DecisionPath = "auto_approved"
	PathManualApproved  DecisionPath = "manual_approved"
	PathManualRejected  DecisionPath = "manual_rejected"
	PathReviewExpired   DecisionPath = "review_expired"
	PathCancelled       DecisionPath = "cancelled"
	PathValidationFail  DecisionPath = "validation_failed"
	PathValidationError DecisionPath = "validation_error"
	PathFraudError      DecisionPath = "fraud_error"
	PathBackorder       DecisionPath = "backorder"
	PathInventoryError  DecisionPath = "inventory_error"
	PathPaymentDeclined DecisionPath = "payment_declined"
	PathPaymentError    DecisionPath = "payment_error"
)

// WorkflowIDPrefix is prepended to an order id to build its workflow id
const WorkflowIDPrefix = "order-"

// WorkflowIDFor derives the deterministic workflow id of an order
func WorkflowIDFor(orderID string) string {
	return WorkflowIDPrefix + orderID
}

// LineItem represents a product in an order
type LineItem struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Order is the root aggregate created by order intake before its workflow starts
type Order struct {
	OrderID      string       `json:"order_id"`
	WorkflowID   string       `json:"workflow_id"`
	CustomerID   string       `json:"customer_id"`
	CustomerTier CustomerTier `json:"customer_tier"`
	Items        []LineItem   `json:"items"`
	TotalAmount  float64      `json:"total_amount"`
	Status       OrderStatus  `json:"status"`
	RiskScore    int          `json:"risk_score"`
	DecisionPath DecisionPath `json:"decision_path,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewOrder builds a pending order and computes its total once.
// Items must be non-empty and every quantity positive.
func NewOrder(orderID, customerID string, tier CustomerTier, items []LineItem, now time.Time) (Order, error) {
	if orderID == "" {
		return Order{}, &ValidationError{Msg: "order id is required"}
	}
	if len(items) == 0 {
		return Order{}, &ValidationError{Msg: "order must contain at least one item"}
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return Order{}, &ValidationError{Msg: fmt.Sprintf("item %s: quantity must be greater than zero", item.ProductID)}
		}
	}

	return Order{
		OrderID:      orderID,
		WorkflowID:   WorkflowIDFor(orderID),
		CustomerID:   customerID,
		CustomerTier: tier,
		Items:        append([]LineItem(nil), items...),
		TotalAmount:  TotalOf(items),
		Status:       StatusPending,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}, nil
}

// TotalOf sums unit price times quantity over items
func TotalOf(items []LineItem) float64 {
	var total float64
	for _, item := range items {
		total += item.UnitPrice * float64(item.Quantity)
	}
	return total
}

// OrderInput is the workflow input derived from an Order
type OrderInput struct {
	OrderID      string       `json:"order_id"`
	CustomerID   string       `json:"customer_id"`
	CustomerTier CustomerTier `json:"customer_tier"`
	Items        []LineItem   `json:"items"`
	TotalAmount  float64      `json:"total_amount"`
	// ReviewTimeout bounds the manual review wait. Zero waits forever.
	ReviewTimeout time.Duration `json:"review_timeout,omitempty"`
}

// InputFor converts an order into the workflow input
func InputFor(order Order, reviewTimeout time.Duration) OrderInput {
	return OrderInput{
		OrderID:       order.OrderID,
		CustomerID:    order.CustomerID,
		CustomerTier:  order.CustomerTier,
		Items:         append([]LineItem(nil), order.Items...),
		TotalAmount:   order.TotalAmount,
		ReviewTimeout: reviewTimeout,
	}
}

// OrderResult is the terminal outcome of the fulfillment workflow
type OrderResult struct {
	OrderID       string       `json:"order_id"`
	Status        OrderStatus  `json:"status"`
	DecisionPath  DecisionPath `json:"decision_path"`
	RiskScore     int          `json:"risk_score,omitempty"`
	TransactionID string       `json:"transaction_id,omitempty"`
	TrackingID    string       `json:"tracking_id,omitempty"`
	Message       string       `json:"message,omitempty"`
}

// OrderWorkflowStatus represents the current state of an order workflow
type OrderWorkflowStatus struct {
	OrderID          string            `json:"order_id"`
	WorkflowID       string            `json:"workflow_id"`
	Status           OrderStatus       `json:"status"`
	DecisionPath     DecisionPath      `json:"decision_path,omitempty"`
	RiskScore        int               `json:"risk_score"`
	RiskScored       bool              `json:"risk_scored"`
	AwaitingReview   bool              `json:"awaiting_review"`
	ReviewDecision   string            `json:"review_decision,omitempty"`
	TransactionID    string            `json:"transaction_id,omitempty"`
	TrackingID       string            `json:"tracking_id,omitempty"`
	UnavailableItems []UnavailableItem `json:"unavailable_items,omitempty"`
	Message          string            `json:"message,omitempty"`
	LastError        string            `json:"last_error,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
}
