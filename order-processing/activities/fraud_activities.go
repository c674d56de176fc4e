package activities

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"order-fulfillment-engine/order-processing/types"
)

// HighRiskThreshold is the score above which an order needs manual review
const HighRiskThreshold = 80

// VeryHighValueThreshold is the order total from which the very high
// value factor applies. A total of exactly 5000 counts.
const VeryHighValueThreshold = 5000

// FraudActivities contains fraud-related activities
type FraudActivities struct{}

// FraudAssessment scores the order. The score depends only on customer
// id, tier and total.
func (a *FraudActivities) FraudAssessment(ctx context.Context, input types.OrderInput) (types.FraudAssessmentResult, error) {
	logger := loggerFrom(ctx)
	_, span := tracer.Start(ctx, "fraud_assessment",
		trace.WithAttributes(
			attribute.String("order.id", input.OrderID),
			attribute.String("customer.id", input.CustomerID),
			attribute.String("customer.tier", string(input.CustomerTier)),
			attribute.Float64("order.amount", input.TotalAmount),
		),
	)
	defer span.End()

	score, reasons := RiskScore(input.CustomerID, input.CustomerTier, input.TotalAmount)

	span.SetAttributes(
		attribute.Int("fraud.risk_score", score),
		attribute.Bool("fraud.high_risk", score > HighRiskThreshold),
		attribute.StringSlice("fraud.risk_factors", reasons),
	)
	logger.Info("Fraud assessment complete", "orderID", input.OrderID, "riskScore", score, "factors", reasons)

	return types.FraudAssessmentResult{
		RiskScore: score,
		Reason:    strings.Join(reasons, ", "),
	}, nil
}

// RiskScore accumulates the risk factors of an order
func RiskScore(customerID string, tier types.CustomerTier, total float64) (int, []string) {
	score := 0
	reasons := []string{}

	if strings.HasPrefix(customerID, "new-") {
		score += 30
		reasons = append(reasons, "new_customer")
	}
	if tier == types.TierNew || tier == "" {
		score += 20
		reasons = append(reasons, "non_premium_tier")
	}
	if total > 1000 {
		score += 25
		reasons = append(reasons, "high_value_order")
	}
	if total >= VeryHighValueThreshold {
		score += 30
		reasons = append(reasons, "very_high_value_order")
	}
	if tier == types.TierPremium {
		score -= 20
		if score < 0 {
			score = 0
		}
	}
	return score, reasons
}
