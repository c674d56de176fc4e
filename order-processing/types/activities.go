package types

import "time"

// ValidateOrderResult reports whether an order passed validation
type ValidateOrderResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// FraudAssessmentResult holds the accumulated risk score
type FraudAssessmentResult struct {
	RiskScore int    `json:"risk_score"`
	Reason    string `json:"reason,omitempty"`
}

// UnavailableItem is an item whose requested quantity exceeds stock
type UnavailableItem struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// InventoryCheckResult lists the items that cannot be fulfilled
type InventoryCheckResult struct {
	AllAvailable     bool              `json:"all_available"`
	UnavailableItems []UnavailableItem `json:"unavailable_items,omitempty"`
}

// PaymentResult is the payment gateway outcome. Declines are not errors.
type PaymentResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// ShippingResult is the shipping reservation outcome
type ShippingResult struct {
	Reserved   bool   `json:"reserved"`
	TrackingID string `json:"tracking_id,omitempty"`
}

// Notification types sent by the workflow
const (
	NotifyOrderConfirmed = "order_confirmed"
	NotifyManualReview   = "manual_review"
	NotifyBackorder      = "backorder"
	NotifyOrderCancelled = "order_cancelled"
)

// NotificationInput is the payload of SendConfirmation
type NotificationInput struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Type       string `json:"type"`
	Message    string `json:"message"`
}

// OrderOutcome is what the metrics sink records for a terminal order
type OrderOutcome struct {
	OrderID       string       `json:"order_id"`
	CustomerTier  CustomerTier `json:"customer_tier"`
	DecisionPath  DecisionPath `json:"decision_path"`
	RiskScore     int          `json:"risk_score"`
	RiskScored    bool         `json:"risk_scored"`
	StartedAt     time.Time    `json:"started_at"`
	FailureReason string       `json:"failure_reason,omitempty"`
}

// OrderMetrics is one observation handed to the metrics sink
type OrderMetrics struct {
	OrderID       string
	CustomerTier  CustomerTier
	DecisionPath  DecisionPath
	RiskScore     int
	RiskScored    bool
	Duration      time.Duration
	FailureReason string
}
