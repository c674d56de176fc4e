package activities

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"order-fulfillment-engine/order-processing/types"
)

// DeclineCustomerID is the customer id the mock gateway always declines
const DeclineCustomerID = "test_decline"

// PaymentGateway charges an order. A decline is a result, not an error;
// errors are infrastructure failures and are retried.
type PaymentGateway interface {
	Charge(ctx context.Context, input types.OrderInput) (types.PaymentResult, error)
}

// MockGateway declines DeclineCustomerID and approves everything else.
type MockGateway struct{}

func (MockGateway) Charge(ctx context.Context, input types.OrderInput) (types.PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return types.PaymentResult{}, err
	}
	if input.CustomerID == DeclineCustomerID {
		return types.PaymentResult{Success: false, Reason: "card declined"}, nil
	}
	return types.PaymentResult{
		Success:       true,
		TransactionID: "txn-" + uuid.NewString()[:8],
	}, nil
}

// PaymentActivities contains payment-related activities
type PaymentActivities struct {
	Gateway PaymentGateway
}

// ProcessPayment processes payment for an order
func (a *PaymentActivities) ProcessPayment(ctx context.Context, input types.OrderInput) (types.PaymentResult, error) {
	logger := loggerFrom(ctx)
	ctx, span := tracer.Start(ctx, "process_payment",
		trace.WithAttributes(
			attribute.String("order.id", input.OrderID),
			attribute.Float64("payment.amount", input.TotalAmount),
		),
	)
	defer span.End()

	logger.Info("Processing payment", "orderID", input.OrderID, "amount", input.TotalAmount)

	gateway := a.Gateway
	if gateway == nil {
		gateway = MockGateway{}
	}
	result, err := gateway.Charge(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment gateway error")
		logger.Warn("Payment gateway error", "orderID", input.OrderID, "error", err)
		return types.PaymentResult{}, &types.TransientError{System: "payment gateway", Msg: err.Error()}
	}

	span.SetAttributes(attribute.Bool("payment.success", result.Success))
	if !result.Success {
		logger.Warn("Payment declined", "orderID", input.OrderID, "reason", result.Reason)
		return result, nil
	}

	span.SetAttributes(attribute.String("payment.transaction_id", result.TransactionID))
	logger.Info("Payment processed successfully", "orderID", input.OrderID, "transactionID", result.TransactionID)
	return result, nil
}
