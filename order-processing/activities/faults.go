package activities

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"order-fulfillment-engine/order-processing/types"
)

// simulatedFailure is the message of injected failures
const simulatedFailure = "simulated failure"

// FaultConfig sets the latency and failure rate injected in front of one
// collaborator. The zero value injects nothing.
type FaultConfig struct {
	// FailureRate is the probability, from 0 to 1, that a call fails.
	FailureRate float64
	MinLatency  time.Duration
	MaxLatency  time.Duration
}

func (c FaultConfig) enabled() bool {
	return c.FailureRate > 0 || c.MinLatency > 0 || c.MaxLatency > 0
}

// Faults injects latency and transient failures into collaborators so the
// retry and timeout paths run under load. One Faults is shared by every
// decorated collaborator; its random source is safe for concurrent use.
type Faults struct {
	mu    sync.Mutex
	rng   *rand.Rand
	clock clock.Clock
}

// NewFaults draws from src. A nil clk uses the wall clock.
func NewFaults(src rand.Source, clk clock.Clock) *Faults {
	if clk == nil {
		clk = clock.New()
	}
	return &Faults{rng: rand.New(src), clock: clk}
}

// NewSeededFaults is NewFaults over a PCG source seeded with seed.
func NewSeededFaults(seed uint64, clk clock.Clock) *Faults {
	return NewFaults(rand.NewPCG(seed, seed), clk)
}

// Inject sleeps a latency drawn from cfg, then fails at cfg.FailureRate
// with a *types.TransientError naming system.
func (f *Faults) Inject(ctx context.Context, system string, cfg FaultConfig) error {
	if f == nil || !cfg.enabled() {
		return nil
	}
	if d := f.latency(cfg); d > 0 {
		select {
		case <-f.clock.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if cfg.FailureRate > 0 && f.float64() < cfg.FailureRate {
		return &types.TransientError{System: system, Msg: simulatedFailure}
	}
	return nil
}

func (f *Faults) latency(cfg FaultConfig) time.Duration {
	if cfg.MaxLatency <= cfg.MinLatency {
		return cfg.MinLatency
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return cfg.MinLatency + time.Duration(f.rng.Int64N(int64(cfg.MaxLatency-cfg.MinLatency)))
}

func (f *Faults) float64() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64()
}

// Inventory decorates next with cfg. A disabled cfg returns next.
func (f *Faults) Inventory(next Inventory, cfg FaultConfig) Inventory {
	if f == nil || !cfg.enabled() {
		return next
	}
	return &faultyInventory{next: next, faults: f, cfg: cfg}
}

// Gateway decorates next with cfg. A disabled cfg returns next.
func (f *Faults) Gateway(next PaymentGateway, cfg FaultConfig) PaymentGateway {
	if f == nil || !cfg.enabled() {
		return next
	}
	return &faultyGateway{next: next, faults: f, cfg: cfg}
}

// Carrier decorates next with cfg. A disabled cfg returns next.
func (f *Faults) Carrier(next Carrier, cfg FaultConfig) Carrier {
	if f == nil || !cfg.enabled() {
		return next
	}
	return &faultyCarrier{next: next, faults: f, cfg: cfg}
}

// Notifier decorates next with cfg. A disabled cfg returns next.
func (f *Faults) Notifier(next Notifier, cfg FaultConfig) Notifier {
	if f == nil || !cfg.enabled() {
		return next
	}
	return &faultyNotifier{next: next, faults: f, cfg: cfg}
}

type faultyInventory struct {
	next   Inventory
	faults *Faults
	cfg    FaultConfig
}

func (i *faultyInventory) Available(ctx context.Context, productID string) (int, error) {
	if err := i.faults.Inject(ctx, "inventory", i.cfg); err != nil {
		return 0, err
	}
	return i.next.Available(ctx, productID)
}

type faultyGateway struct {
	next   PaymentGateway
	faults *Faults
	cfg    FaultConfig
}

func (g *faultyGateway) Charge(ctx context.Context, input types.OrderInput) (types.PaymentResult, error) {
	if err := g.faults.Inject(ctx, "payment gateway", g.cfg); err != nil {
		return types.PaymentResult{}, err
	}
	return g.next.Charge(ctx, input)
}

type faultyCarrier struct {
	next   Carrier
	faults *Faults
	cfg    FaultConfig
}

func (c *faultyCarrier) Reserve(ctx context.Context, input types.OrderInput) (string, error) {
	if err := c.faults.Inject(ctx, "shipping carrier", c.cfg); err != nil {
		return "", err
	}
	return c.next.Reserve(ctx, input)
}

type faultyNotifier struct {
	next   Notifier
	faults *Faults
	cfg    FaultConfig
}

func (n *faultyNotifier) Notify(ctx context.Context, in types.NotificationInput) error {
	if err := n.faults.Inject(ctx, "notification", n.cfg); err != nil {
		return err
	}
	return n.next.Notify(ctx, in)
}
