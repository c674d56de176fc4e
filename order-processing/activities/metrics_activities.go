package activities

import (
	"context"
	"time"

	"github.com/facebookgo/clock"

	"order-fulfillment-engine/order-processing/types"
)

// MetricsSink records one observation per terminal order
type MetricsSink interface {
	RecordOrder(ctx context.Context, m types.OrderMetrics) error
}

// MetricsActivities contains the metrics activity
type MetricsActivities struct {
	Sink  MetricsSink
	Clock clock.Clock
}

// RecordOrderMetrics reports a terminal order to the sink. Sink failures
// are logged and never fail the workflow.
func (a *MetricsActivities) RecordOrderMetrics(ctx context.Context, outcome types.OrderOutcome) error {
	logger := loggerFrom(ctx)
	if a.Sink == nil {
		return nil
	}
	clk := a.Clock
	if clk == nil {
		clk = clock.New()
	}

	var duration time.Duration
	if !outcome.StartedAt.IsZero() {
		duration = clk.Now().Sub(outcome.StartedAt)
		if duration < 0 {
			duration = 0
		}
	}

	err := a.Sink.RecordOrder(ctx, types.OrderMetrics{
		OrderID:       outcome.OrderID,
		CustomerTier:  outcome.CustomerTier,
		DecisionPath:  outcome.DecisionPath,
		RiskScore:     outcome.RiskScore,
		RiskScored:    outcome.RiskScored,
		Duration:      duration,
		FailureReason: outcome.FailureReason,
	})
	if err != nil {
		logger.Warn("Failed to record order metrics", "orderID", outcome.OrderID, "decisionPath", outcome.DecisionPath, "error", err)
	}
	return nil
}
