package activities

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/log"

	"order-fulfillment-engine/order-processing/engine"
)

var tracer = otel.Tracer("order-fulfillment/activities")

// loggerFrom returns the logger of whichever runtime invoked the activity.
func loggerFrom(ctx context.Context) log.Logger {
	if activity.IsActivity(ctx) {
		return activity.GetLogger(ctx)
	}
	if logger := engine.GetLogger(ctx); logger != nil {
		return logger
	}
	return log.NewStructuredLogger(slog.Default())
}
