package activities

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"order-fulfillment-engine/order-processing/types"
)

func order(customerID string, tier types.CustomerTier, items ...types.LineItem) types.OrderInput {
	return types.OrderInput{
		OrderID:      "ord-1",
		CustomerID:   customerID,
		CustomerTier: tier,
		Items:        items,
		TotalAmount:  types.TotalOf(items),
	}
}

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name       string
		customerID string
		tier       types.CustomerTier
		total      float64
		want       int
	}{
		{"premium small order", "cust-1", types.TierPremium, 50, 0},
		{"standard small order", "cust-1", types.TierStandard, 50, 0},
		{"empty tier", "cust-1", "", 50, 20},
		{"new customer high value", "new-customer", types.TierNew, 4999.99, 75},
		{"new customer very high value", "new-customer", types.TierNew, 5000, 105},
		{"premium high value", "cust-1", types.TierPremium, 2000, 5},
		{"premium new prefix floors at zero", "new-x", types.TierPremium, 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, _ := RiskScore(tt.customerID, tt.tier, tt.total)
			assert.Equal(t, tt.want, score)
		})
	}
}

func TestFraudAssessmentIsDeterministic(t *testing.T) {
	a := &FraudActivities{}
	ctx := context.Background()
	inputs := []types.OrderInput{
		order("new-customer", types.TierNew, types.LineItem{ProductID: "prod-1", Quantity: 1, UnitPrice: 5001}),
		order("cust-9", types.TierPremium, types.LineItem{ProductID: "prod-2", Quantity: 3, UnitPrice: 400}),
		order("cust-3", "", types.LineItem{ProductID: "prod-3", Quantity: 1, UnitPrice: 10}),
	}
	for _, in := range inputs {
		first, err := a.FraudAssessment(ctx, in)
		require.NoError(t, err)
		for i := 0; i < 20; i++ {
			again, err := a.FraudAssessment(ctx, in)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	}

	res, err := a.FraudAssessment(ctx, inputs[0])
	require.NoError(t, err)
	assert.Equal(t, 105, res.RiskScore)
	assert.Equal(t, "new_customer, non_premium_tier, high_value_order, very_high_value_order", res.Reason)
}

func TestValidateOrder(t *testing.T) {
	item := types.LineItem{ProductID: "prod-1", Quantity: 1, UnitPrice: 10}
	tests := []struct {
		name   string
		input  types.OrderInput
		valid  bool
		reason string
	}{
		{"valid", order("cust-1", types.TierStandard, item), true, ""},
		{"missing customer", order("", types.TierStandard, item), false, "customer ID is required"},
		{"no items", order("cust-1", types.TierStandard), false, "order must contain at least one item"},
		{"zero total", order("cust-1", types.TierStandard, types.LineItem{ProductID: "p", Quantity: 1}), false, "order total must be greater than zero"},
		{"negative quantity", types.OrderInput{
			CustomerID:  "cust-1",
			Items:       []types.LineItem{{ProductID: "p", Quantity: -1, UnitPrice: 5}},
			TotalAmount: 20,
		}, false, "item quantity must be greater than zero"},
	}
	a := &OrderActivities{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := a.ValidateOrder(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

type failingInventory struct{}

func (failingInventory) Available(context.Context, string) (int, error) {
	return 0, errors.New("connection refused")
}

func TestInventoryCheck(t *testing.T) {
	a := &InventoryActivities{Inventory: DefaultCatalog()}
	ctx := context.Background()

	res, err := a.InventoryCheck(ctx, order("c", types.TierStandard,
		types.LineItem{ProductID: "prod-1", Quantity: 100, UnitPrice: 1},
		types.LineItem{ProductID: "never-seen", Quantity: 10, UnitPrice: 1},
	))
	require.NoError(t, err)
	assert.True(t, res.AllAvailable)
	assert.Empty(t, res.UnavailableItems)

	res, err = a.InventoryCheck(ctx, order("c", types.TierStandard,
		types.LineItem{ProductID: "out-of-stock-item", Quantity: 1000, UnitPrice: 1},
		types.LineItem{ProductID: "never-seen", Quantity: 11, UnitPrice: 1},
		types.LineItem{ProductID: "prod-3", Quantity: 1, UnitPrice: 1},
	))
	require.NoError(t, err)
	assert.False(t, res.AllAvailable)
	assert.Equal(t, []types.UnavailableItem{
		{ProductID: "out-of-stock-item", Requested: 1000, Available: 0},
		{ProductID: "never-seen", Requested: 11, Available: DefaultUnknownAvailable},
	}, res.UnavailableItems)

	a = &InventoryActivities{Inventory: failingInventory{}}
	_, err = a.InventoryCheck(ctx, order("c", types.TierStandard, types.LineItem{ProductID: "prod-1", Quantity: 1}))
	var transient *types.TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, "inventory", transient.System)
}

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte("default_available: 0\nproducts:\n  widget: 3\n"))
	require.NoError(t, err)
	ctx := context.Background()

	qty, err := c.Available(ctx, "widget")
	require.NoError(t, err)
	assert.Equal(t, 3, qty)
	qty, err = c.Available(ctx, "gadget")
	require.NoError(t, err)
	assert.Equal(t, 0, qty)

	c, err = ParseCatalog([]byte("products:\n  widget: 3\n"))
	require.NoError(t, err)
	qty, _ = c.Available(ctx, "gadget")
	assert.Equal(t, DefaultUnknownAvailable, qty)

	_, err = ParseCatalog([]byte("products:\n  widget: -1\n"))
	assert.ErrorContains(t, err, "product widget: quantity must not be negative")

	_, err = ParseCatalog([]byte("products: [1, 2"))
	assert.ErrorContains(t, err, "inventory: parse catalog")
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	require.NoError(t, os.WriteFile(path, []byte("products:\n  prod-1: 7\n"), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	qty, err := c.Available(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 7, qty)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "inventory: read")
}

type brokenGateway struct{}

func (brokenGateway) Charge(context.Context, types.OrderInput) (types.PaymentResult, error) {
	return types.PaymentResult{}, errors.New("gateway timeout")
}

func TestProcessPayment(t *testing.T) {
	a := &PaymentActivities{}
	ctx := context.Background()
	item := types.LineItem{ProductID: "prod-1", Quantity: 1, UnitPrice: 25}

	res, err := a.ProcessPayment(ctx, order("cust-1", types.TierStandard, item))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.TransactionID, "txn-"))
	assert.Len(t, res.TransactionID, len("txn-")+8)

	res, err = a.ProcessPayment(ctx, order(DeclineCustomerID, types.TierStandard, item))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.TransactionID)
	assert.Equal(t, "card declined", res.Reason)

	a = &PaymentActivities{Gateway: brokenGateway{}}
	_, err = a.ProcessPayment(ctx, order("cust-1", types.TierStandard, item))
	var transient *types.TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, "payment gateway: gateway timeout", err.Error())
}

func TestReserveShipping(t *testing.T) {
	a := &ShippingActivities{}
	res, err := a.ReserveShipping(context.Background(), order("cust-1", types.TierStandard))
	require.NoError(t, err)
	assert.True(t, res.Reserved)
	assert.True(t, strings.HasPrefix(res.TrackingID, "TRK-"))
}

type recordingNotifier struct {
	sent []types.NotificationInput
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, in types.NotificationInput) error {
	n.sent = append(n.sent, in)
	return n.err
}

func TestSendConfirmation(t *testing.T) {
	n := &recordingNotifier{}
	a := &NotificationActivities{Notifier: n}
	ctx := context.Background()
	in := types.NotificationInput{OrderID: "ord-1", CustomerID: "c", Type: types.NotifyOrderConfirmed, Message: "done"}

	require.NoError(t, a.SendConfirmation(ctx, in))
	assert.Equal(t, []types.NotificationInput{in}, n.sent)

	var validation *types.ValidationError
	require.ErrorAs(t, a.SendConfirmation(ctx, types.NotificationInput{OrderID: "ord-1"}), &validation)

	n.err = errors.New("smtp unavailable")
	err := a.SendConfirmation(ctx, in)
	assert.ErrorIs(t, err, n.err)
	assert.ErrorContains(t, err, "send order_confirmed notification for ord-1")

	require.NoError(t, (&NotificationActivities{}).SendConfirmation(ctx, in))
}

type sinkMock struct {
	mock.Mock
}

func (m *sinkMock) RecordOrder(ctx context.Context, metrics types.OrderMetrics) error {
	return m.Called(ctx, metrics).Error(0)
}

func TestRecordOrderMetrics(t *testing.T) {
	clk := clock.NewMock()
	started := clk.Now()
	clk.Add(3 * time.Second)

	sink := &sinkMock{}
	sink.On("RecordOrder", mock.Anything, types.OrderMetrics{
		OrderID:      "ord-1",
		CustomerTier: types.TierPremium,
		DecisionPath: types.PathAutoApproved,
		RiskScore:    0,
		RiskScored:   true,
		Duration:     3 * time.Second,
	}).Return(nil).Once()
	sink.On("RecordOrder", mock.Anything, mock.MatchedBy(func(m types.OrderMetrics) bool {
		return m.OrderID == "ord-2"
	})).Return(errors.New("collector down")).Once()

	a := &MetricsActivities{Sink: sink, Clock: clk}
	ctx := context.Background()
	require.NoError(t, a.RecordOrderMetrics(ctx, types.OrderOutcome{
		OrderID:      "ord-1",
		CustomerTier: types.TierPremium,
		DecisionPath: types.PathAutoApproved,
		RiskScored:   true,
		StartedAt:    started,
	}))
	require.NoError(t, a.RecordOrderMetrics(ctx, types.OrderOutcome{OrderID: "ord-2", StartedAt: started}))
	sink.AssertExpectations(t)

	require.NoError(t, (&MetricsActivities{}).RecordOrderMetrics(ctx, types.OrderOutcome{OrderID: "ord-3"}))
}

func TestActivitiesOnTemporalWorker(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()

	set := NewSet(Dependencies{})
	set.RegisterTemporal(env)

	val, err := env.ExecuteActivity(set.Fraud.FraudAssessment, order("new-customer", types.TierNew,
		types.LineItem{ProductID: "prod-1", Quantity: 1, UnitPrice: 6000}))
	require.NoError(t, err)
	var fraud types.FraudAssessmentResult
	require.NoError(t, val.Get(&fraud))
	assert.Equal(t, 105, fraud.RiskScore)

	val, err = env.ExecuteActivity(set.Inventory.InventoryCheck, order("c", types.TierStandard,
		types.LineItem{ProductID: "out-of-stock-item", Quantity: 1000, UnitPrice: 1}))
	require.NoError(t, err)
	var inv types.InventoryCheckResult
	require.NoError(t, val.Get(&inv))
	assert.False(t, inv.AllAvailable)
}
