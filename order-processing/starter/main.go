package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	temporalclient "go.temporal.io/sdk/client"
	"golang.org/x/sync/errgroup"

	"order-fulfillment-engine/order-processing/activities"
	"order-fulfillment-engine/order-processing/client"
	"order-fulfillment-engine/order-processing/config"
	"order-fulfillment-engine/order-processing/engine"
	"order-fulfillment-engine/order-processing/store"
	"order-fulfillment-engine/order-processing/types"
	"order-fulfillment-engine/order-processing/workflows"
)

// orderSpec describes the orders the starter submits
type orderSpec struct {
	OrderID      string  `env:"ORDER_ID"`
	CustomerID   string  `env:"CUSTOMER_ID" envDefault:"cust-123"`
	CustomerTier string  `env:"CUSTOMER_TIER" envDefault:"standard"`
	ProductID    string  `env:"PRODUCT_ID" envDefault:"prod-1"`
	Quantity     int     `env:"QUANTITY" envDefault:"2"`
	UnitPrice    float64 `env:"UNIT_PRICE" envDefault:"49.99"`
	Count        int     `env:"ORDER_COUNT" envDefault:"1"`
	Async        bool    `env:"ASYNC"`
	AutoApprove  bool    `env:"AUTO_APPROVE"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalln("Unable to load configuration", err)
	}
	var spec orderSpec
	if err := env.Parse(&spec); err != nil {
		log.Fatalln("Unable to load order settings", fmt.Errorf("parse env: %w", err))
	}

	ctx := context.Background()
	backend, closeBackend, err := newBackend(ctx, cfg)
	if err != nil {
		log.Fatalln("Unable to create order client", err)
	}
	defer closeBackend()

	c := client.New(backend, client.Options{ReviewTimeout: cfg.ReviewTimeout})

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < max(spec.Count, 1); i++ {
		orderID := spec.OrderID
		if orderID == "" || spec.Count > 1 {
			orderID = "ORDER-" + uuid.NewString()[:8]
		}
		g.Go(func() error { return runOrder(gctx, c, spec, orderID) })
	}
	if err := g.Wait(); err != nil {
		log.Fatalln("Order failed", err)
	}
}

// newBackend connects to the configured engine. An embedded engine over a
// shared store only records starts and signals for a separate worker; over
// the memory store it executes orders in process.
func newBackend(ctx context.Context, cfg config.Config) (client.Backend, func(), error) {
	if cfg.Backend == config.BackendTemporal {
		tc, err := temporalclient.Dial(temporalclient.Options{
			HostPort: cfg.TemporalHost,
			Logger:   cfg.Logger(os.Stderr),
		})
		if err != nil {
			return nil, nil, err
		}
		return &client.TemporalBackend{Client: tc, TaskQueue: cfg.TaskQueue}, tc.Close, nil
	}

	st, closeStore, err := store.Open(ctx, cfg.StoreConfig())
	if err != nil {
		return nil, nil, err
	}
	opts := engine.Options{
		Identity:     "order-starter",
		PollInterval: cfg.PollInterval,
		Logger:       cfg.Logger(os.Stderr),
	}
	if cfg.Store == store.Memory {
		opts.Workers = max(cfg.Workers, 1)
		opts.ActivityOptions = cfg.ActivityOptions()
	}
	e := engine.New(st, opts)
	activities.NewSet(activities.Dependencies{}).RegisterEngine(e)
	(&workflows.OrderFulfillment{ActivityOptions: cfg.ActivityOptions()}).RegisterEngine(e)
	if err := e.Start(); err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	return &client.EngineBackend{Engine: e}, func() {
		e.Stop()
		if err := closeStore(); err != nil {
			log.Println("Closing store failed:", err)
		}
	}, nil
}

func runOrder(ctx context.Context, c *client.Client, spec orderSpec, orderID string) error {
	order, err := types.NewOrder(orderID, spec.CustomerID, types.CustomerTier(spec.CustomerTier),
		[]types.LineItem{{ProductID: spec.ProductID, Quantity: spec.Quantity, UnitPrice: spec.UnitPrice}}, time.Now())
	if err != nil {
		return err
	}

	workflowID, err := c.StartOrderWorkflow(ctx, order)
	if err != nil {
		return err
	}
	log.Printf("Started order %s - WorkflowID: %s, Total: %.2f\n", orderID, workflowID, order.TotalAmount)

	if spec.Async {
		log.Printf("Order %s started asynchronously\n", orderID)
		return nil
	}
	if spec.AutoApprove {
		go autoApprove(ctx, c, orderID, workflowID)
	}

	result, err := c.WaitForResult(ctx, orderID)
	if err != nil {
		return fmt.Errorf("order %s: %w", orderID, err)
	}
	log.Printf("Order %s finished: status=%s path=%s risk=%d txn=%s tracking=%s %s\n",
		orderID, result.Status, result.DecisionPath, result.RiskScore, result.TransactionID, result.TrackingID, result.Message)
	return nil
}

var errNotInReview = errors.New("order not awaiting review")

// autoApprove approves the order once it waits for manual review
func autoApprove(ctx context.Context, c *client.Client, orderID, workflowID string) {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		st, err := c.GetOrderStatus(ctx, orderID)
		if err != nil {
			return struct{}{}, err
		}
		if st.Status.Terminal() {
			return struct{}{}, backoff.Permanent(errNotInReview)
		}
		if !st.AwaitingReview {
			return struct{}{}, errNotInReview
		}
		return struct{}{}, c.SubmitManualReviewDecision(ctx, workflowID, workflows.DecisionApproved)
	}, backoff.WithBackOff(backoff.NewConstantBackOff(500*time.Millisecond)), backoff.WithMaxElapsedTime(time.Minute))
	switch {
	case err == nil:
		log.Printf("Auto-approved order %s\n", orderID)
	case errors.Is(err, errNotInReview):
	default:
		log.Printf("Failed to auto-approve order %s: %v\n", orderID, err)
	}
}
