package activities

import (
	"context"
	"fmt"

	"order-fulfillment-engine/order-processing/types"
)

// Notifier delivers a customer notification
type Notifier interface {
	Notify(ctx context.Context, n types.NotificationInput) error
}

// LogNotifier writes notifications to the activity logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n types.NotificationInput) error {
	loggerFrom(ctx).Info("Notification sent",
		"orderID", n.OrderID,
		"customerID", n.CustomerID,
		"type", n.Type,
		"message", n.Message,
	)
	return nil
}

// NotificationActivities contains notification-related activities
type NotificationActivities struct {
	Notifier Notifier
}

// SendConfirmation dispatches a notification. Workflows treat a failure
// as non-critical.
func (a *NotificationActivities) SendConfirmation(ctx context.Context, input types.NotificationInput) error {
	logger := loggerFrom(ctx)
	if input.Type == "" {
		return &types.ValidationError{Msg: "notification type is required"}
	}

	notifier := a.Notifier
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if err := notifier.Notify(ctx, input); err != nil {
		logger.Warn("Notification failed", "orderID", input.OrderID, "type", input.Type, "error", err)
		return fmt.Errorf("send %s notification for %s: %w", input.Type, input.OrderID, err)
	}
	return nil
}
