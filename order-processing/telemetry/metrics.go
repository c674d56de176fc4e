// Package telemetry records order outcomes as OpenTelemetry metrics and
// sets up trace export.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"order-fulfillment-engine/order-processing/types"
)

const meterName = "order-fulfillment"

// Recorder is a metrics sink for terminal orders
type Recorder struct {
	processed metric.Int64Counter
	failed    metric.Int64Counter
	riskScore metric.Int64Histogram
	duration  metric.Float64Histogram
}

// NewRecorder creates the order instruments on mp. A nil mp uses the
// global meter provider.
func NewRecorder(mp metric.MeterProvider) (*Recorder, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	processed, err := meter.Int64Counter("orders.processed",
		metric.WithDescription("Orders that reached a terminal decision path"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("orders.failed",
		metric.WithDescription("Terminal orders that carry a failure reason"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}
	riskScore, err := meter.Int64Histogram("orders.fraud_risk_score",
		metric.WithDescription("Distribution of fraud risk scores"),
		metric.WithUnit("{score}"),
		metric.WithExplicitBucketBoundaries(0, 20, 40, 60, 80, 100),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("orders.processing_duration",
		metric.WithDescription("Order processing duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 3600, 86400),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		processed: processed,
		failed:    failed,
		riskScore: riskScore,
		duration:  duration,
	}, nil
}

func (r *Recorder) RecordOrder(ctx context.Context, m types.OrderMetrics) error {
	attrs := metric.WithAttributes(
		attribute.String("decision_path", string(m.DecisionPath)),
		attribute.String("customer_tier", string(m.CustomerTier)),
	)
	r.processed.Add(ctx, 1, attrs)
	if m.FailureReason != "" {
		r.failed.Add(ctx, 1, attrs)
	}
	if m.RiskScored {
		r.riskScore.Record(ctx, int64(m.RiskScore), metric.WithAttributes(
			attribute.String("customer_tier", string(m.CustomerTier)),
		))
	}
	r.duration.Record(ctx, m.Duration.Seconds(), attrs)
	return nil
}
