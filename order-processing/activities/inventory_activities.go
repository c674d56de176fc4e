package activities

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"order-fulfillment-engine/order-processing/types"
)

// InventoryActivities contains inventory-related activities
type InventoryActivities struct {
	Inventory Inventory
}

// InventoryCheck lists the items whose requested quantity exceeds stock.
// Lookup failures are returned as retryable errors.
func (a *InventoryActivities) InventoryCheck(ctx context.Context, input types.OrderInput) (types.InventoryCheckResult, error) {
	logger := loggerFrom(ctx)
	ctx, span := tracer.Start(ctx, "inventory_check",
		trace.WithAttributes(
			attribute.String("order.id", input.OrderID),
			attribute.Int("order.item_count", len(input.Items)),
		),
	)
	defer span.End()

	inventory := a.Inventory
	if inventory == nil {
		inventory = DefaultCatalog()
	}

	var unavailable []types.UnavailableItem
	for _, item := range input.Items {
		available, err := inventory.Available(ctx, item.ProductID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "inventory lookup failed")
			logger.Warn("Inventory lookup failed", "orderID", input.OrderID, "productID", item.ProductID, "error", err)
			return types.InventoryCheckResult{}, &types.TransientError{System: "inventory", Msg: err.Error()}
		}
		if available < item.Quantity {
			unavailable = append(unavailable, types.UnavailableItem{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: available,
			})
		}
	}

	allAvailable := len(unavailable) == 0
	span.SetAttributes(
		attribute.Bool("inventory.all_available", allAvailable),
		attribute.Int("inventory.unavailable_count", len(unavailable)),
	)
	logger.Info("Inventory check complete", "orderID", input.OrderID, "allAvailable", allAvailable)

	return types.InventoryCheckResult{
		AllAvailable:     allAvailable,
		UnavailableItems: unavailable,
	}, nil
}
