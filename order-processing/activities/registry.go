package activities

import (
	"order-fulfillment-engine/order-processing/engine"
)

// Activity names. They match the method names so Temporal's method
// registration and the embedded engine resolve the same names.
const (
	ValidateOrderName      = "ValidateOrder"
	FraudAssessmentName    = "FraudAssessment"
	InventoryCheckName     = "InventoryCheck"
	ProcessPaymentName     = "ProcessPayment"
	ReserveShippingName    = "ReserveShipping"
	SendConfirmationName   = "SendConfirmation"
	RecordOrderMetricsName = "RecordOrderMetrics"
)

// Set groups every activity the order workflow calls.
type Set struct {
	Order        *OrderActivities
	Fraud        *FraudActivities
	Inventory    *InventoryActivities
	Payment      *PaymentActivities
	Shipping     *ShippingActivities
	Notification *NotificationActivities
	Metrics      *MetricsActivities
}

// Dependencies are the collaborators behind the activities. Nil fields
// fall back to the mock implementations.
type Dependencies struct {
	Inventory Inventory
	Gateway   PaymentGateway
	Carrier   Carrier
	Notifier  Notifier
	Metrics   MetricsSink
}

// NewSet wires the activities to deps.
func NewSet(deps Dependencies) *Set {
	inventory := deps.Inventory
	if inventory == nil {
		inventory = DefaultCatalog()
	}
	return &Set{
		Order:        &OrderActivities{},
		Fraud:        &FraudActivities{},
		Inventory:    &InventoryActivities{Inventory: inventory},
		Payment:      &PaymentActivities{Gateway: deps.Gateway},
		Shipping:     &ShippingActivities{Carrier: deps.Carrier},
		Notification: &NotificationActivities{Notifier: deps.Notifier},
		Metrics:      &MetricsActivities{Sink: deps.Metrics},
	}
}

// EngineRegistry is the registration surface of the embedded engine.
type EngineRegistry interface {
	RegisterActivity(name string, fn engine.ActivityFunc)
}

// RegisterEngine registers the activities with an embedded engine.
func (s *Set) RegisterEngine(e EngineRegistry) {
	e.RegisterActivity(ValidateOrderName, engine.Activity(s.Order.ValidateOrder))
	e.RegisterActivity(FraudAssessmentName, engine.Activity(s.Fraud.FraudAssessment))
	e.RegisterActivity(InventoryCheckName, engine.Activity(s.Inventory.InventoryCheck))
	e.RegisterActivity(ProcessPaymentName, engine.Activity(s.Payment.ProcessPayment))
	e.RegisterActivity(ReserveShippingName, engine.Activity(s.Shipping.ReserveShipping))
	e.RegisterActivity(SendConfirmationName, engine.ActivityNoResult(s.Notification.SendConfirmation))
	e.RegisterActivity(RecordOrderMetricsName, engine.ActivityNoResult(s.Metrics.RecordOrderMetrics))
}

// ActivityRegistry is the registration surface of a Temporal worker.
type ActivityRegistry interface {
	RegisterActivity(a interface{})
}

// RegisterTemporal registers the activities with a Temporal worker.
func (s *Set) RegisterTemporal(r ActivityRegistry) {
	r.RegisterActivity(s.Order.ValidateOrder)
	r.RegisterActivity(s.Fraud.FraudAssessment)
	r.RegisterActivity(s.Inventory.InventoryCheck)
	r.RegisterActivity(s.Payment.ProcessPayment)
	r.RegisterActivity(s.Shipping.ReserveShipping)
	r.RegisterActivity(s.Notification.SendConfirmation)
	r.RegisterActivity(s.Metrics.RecordOrderMetrics)
}
