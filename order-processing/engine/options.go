package engine

import (
	"log/slog"
	"time"

	"github.com/facebookgo/clock"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
)

// Options configures an Engine
type Options struct {
	// Identity names this engine in logs
	Identity string

	// Workers is the number of executions driven concurrently. Zero runs
	// the engine as a client only: starts and signals are persisted and a
	// worker sharing the store executes them.
	Workers int

	// PollInterval is how often the store is scanned for executions made
	// runnable by another process. Zero disables polling.
	PollInterval time.Duration

	// ActivityOptions applies to activity calls that leave fields unset
	ActivityOptions ActivityOptions

	Logger log.Logger
	Clock  clock.Clock
}

// ActivityOptions controls how one activity call is attempted
type ActivityOptions struct {
	// StartToCloseTimeout bounds a single attempt. Exceeding it is a
	// retryable failure.
	StartToCloseTimeout time.Duration

	// RetryPolicy bounds attempts for retryable failures. MaximumAttempts
	// of zero means unlimited, one disables retries.
	RetryPolicy *temporal.RetryPolicy
}

// DefaultRetryPolicy is used when neither the call nor the engine sets one
func DefaultRetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    time.Minute,
		MaximumAttempts:    3,
	}
}

func (o Options) normalized() Options {
	if o.Identity == "" {
		o.Identity = "order-engine"
	}
	if o.Workers < 0 {
		o.Workers = 0
	}
	if o.Logger == nil {
		o.Logger = log.NewStructuredLogger(slog.Default())
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.ActivityOptions.StartToCloseTimeout <= 0 {
		o.ActivityOptions.StartToCloseTimeout = time.Minute
	}
	if o.ActivityOptions.RetryPolicy == nil {
		o.ActivityOptions.RetryPolicy = DefaultRetryPolicy()
	}
	return o
}

func (o ActivityOptions) merge(defaults ActivityOptions) ActivityOptions {
	if o.StartToCloseTimeout <= 0 {
		o.StartToCloseTimeout = defaults.StartToCloseTimeout
	}
	if o.RetryPolicy == nil {
		o.RetryPolicy = defaults.RetryPolicy
	}
	return o
}
