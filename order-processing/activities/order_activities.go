package activities

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"order-fulfillment-engine/order-processing/types"
)

// OrderActivities contains order-related activities
type OrderActivities struct{}

// ValidateOrder checks the order's business rules. A failed rule is a
// normal result with Valid false, never an error.
func (a *OrderActivities) ValidateOrder(ctx context.Context, input types.OrderInput) (types.ValidateOrderResult, error) {
	logger := loggerFrom(ctx)
	_, span := tracer.Start(ctx, "validate_order",
		trace.WithAttributes(
			attribute.String("order.id", input.OrderID),
			attribute.String("customer.id", input.CustomerID),
			attribute.Float64("order.amount", input.TotalAmount),
			attribute.Int("order.item_count", len(input.Items)),
		),
	)
	defer span.End()

	logger.Info("Validating order", "orderID", input.OrderID)

	reject := func(failure, reason string) (types.ValidateOrderResult, error) {
		span.SetAttributes(attribute.String("validation.failure", failure))
		logger.Info("Order failed validation", "orderID", input.OrderID, "reason", reason)
		return types.ValidateOrderResult{Valid: false, Reason: reason}, nil
	}

	if input.CustomerID == "" {
		return reject("missing_customer_id", "customer ID is required")
	}
	if len(input.Items) == 0 {
		return reject("no_items", "order must contain at least one item")
	}
	if input.TotalAmount <= 0 {
		return reject("invalid_amount", "order total must be greater than zero")
	}
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return reject("invalid_quantity", "item quantity must be greater than zero")
		}
	}

	span.SetAttributes(attribute.Bool("validation.passed", true))
	logger.Info("Order validated", "orderID", input.OrderID)
	return types.ValidateOrderResult{Valid: true}, nil
}
