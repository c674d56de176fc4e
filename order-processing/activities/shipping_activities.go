package activities

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"order-fulfillment-engine/order-processing/types"
)

// Carrier books a shipment and returns its tracking id
type Carrier interface {
	Reserve(ctx context.Context, input types.OrderInput) (string, error)
}

// MockCarrier books every shipment.
type MockCarrier struct{}

func (MockCarrier) Reserve(ctx context.Context, _ types.OrderInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "TRK-" + uuid.NewString()[:8], nil
}

// ShippingActivities contains shipping-related activities
type ShippingActivities struct {
	Carrier Carrier
}

// ReserveShipping books a shipment and returns its tracking id
func (a *ShippingActivities) ReserveShipping(ctx context.Context, input types.OrderInput) (types.ShippingResult, error) {
	logger := loggerFrom(ctx)
	ctx, span := tracer.Start(ctx, "reserve_shipping",
		trace.WithAttributes(attribute.String("order.id", input.OrderID)),
	)
	defer span.End()

	carrier := a.Carrier
	if carrier == nil {
		carrier = MockCarrier{}
	}
	trackingID, err := carrier.Reserve(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "shipping carrier error")
		logger.Warn("Shipping carrier error", "orderID", input.OrderID, "error", err)
		return types.ShippingResult{}, &types.TransientError{System: "shipping carrier", Msg: err.Error()}
	}

	span.SetAttributes(attribute.String("shipping.tracking_id", trackingID))
	logger.Info("Shipping reserved", "orderID", input.OrderID, "trackingID", trackingID)

	return types.ShippingResult{Reserved: true, TrackingID: trackingID}, nil
}
