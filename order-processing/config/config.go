// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"

	"order-fulfillment-engine/order-processing/activities"
	"order-fulfillment-engine/order-processing/engine"
	"order-fulfillment-engine/order-processing/store"
	"order-fulfillment-engine/order-processing/types"
)

// Engine backends
const (
	BackendEmbedded = "embedded"
	BackendTemporal = "temporal"
)

type Config struct {
	Backend string `env:"ORDER_ENGINE_BACKEND" envDefault:"embedded"`

	TemporalHost string `env:"TEMPORAL_HOST" envDefault:"localhost:7233"`
	TaskQueue    string `env:"ORDER_TASK_QUEUE" envDefault:"order-task-queue"`
	// ActivityTaskQueues routes activities, by name, to their own Temporal
	// task queues: "ProcessPayment:payment-queue,ReserveShipping:shipping-queue".
	ActivityTaskQueues map[string]string `env:"ORDER_ACTIVITY_TASK_QUEUES"`

	Store        string        `env:"ORDER_STORE" envDefault:"sqlite"`
	SQLitePath   string        `env:"ORDER_SQLITE_PATH" envDefault:"orders.db"`
	DatabaseURL  string        `env:"DATABASE_URL"`
	Workers      int           `env:"ORDER_WORKERS" envDefault:"8"`
	PollInterval time.Duration `env:"ORDER_POLL_INTERVAL" envDefault:"1s"`

	// ReviewTimeout of zero waits for a reviewer forever.
	ReviewTimeout time.Duration `env:"ORDER_REVIEW_TIMEOUT" envDefault:"0s"`
	InventoryFile string        `env:"ORDER_INVENTORY_FILE"`

	ActivityTimeout      time.Duration `env:"ORDER_ACTIVITY_TIMEOUT" envDefault:"1m"`
	ActivityMaxAttempts  int           `env:"ORDER_ACTIVITY_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialInterval time.Duration `env:"ORDER_RETRY_INITIAL_INTERVAL" envDefault:"1s"`
	RetryMaxInterval     time.Duration `env:"ORDER_RETRY_MAX_INTERVAL" envDefault:"1m"`

	// Fault injection per collaborator, e.g. PAYMENT_FAILURE_RATE=0.2.
	// A zero FaultSeed seeds from the wall clock.
	Inventory    FaultSettings `envPrefix:"INVENTORY_"`
	Payment      FaultSettings `envPrefix:"PAYMENT_"`
	Shipping     FaultSettings `envPrefix:"SHIPPING_"`
	Notification FaultSettings `envPrefix:"NOTIFICATION_"`
	FaultSeed    uint64        `env:"ORDER_FAULT_SEED"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"order-fulfillment"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// FaultSettings configures latency and failure injection for one
// collaborator. Keys are prefixed with the collaborator name.
type FaultSettings struct {
	Enabled      bool    `env:"SIMULATION_ENABLED" envDefault:"true"`
	FailureRate  float64 `env:"FAILURE_RATE"`
	LatencyMinMs int     `env:"LATENCY_MIN_MS"`
	LatencyMaxMs int     `env:"LATENCY_MAX_MS"`
}

// FaultConfig converts s; disabled settings inject nothing.
func (s FaultSettings) FaultConfig() activities.FaultConfig {
	if !s.Enabled {
		return activities.FaultConfig{}
	}
	return activities.FaultConfig{
		FailureRate: s.FailureRate,
		MinLatency:  time.Duration(s.LatencyMinMs) * time.Millisecond,
		MaxLatency:  time.Duration(s.LatencyMaxMs) * time.Millisecond,
	}
}

func (s FaultSettings) validate(prefix string) error {
	if s.FailureRate < 0 || s.FailureRate > 1 {
		return fmt.Errorf("%sFAILURE_RATE: must be between 0 and 1", prefix)
	}
	if s.LatencyMinMs < 0 {
		return fmt.Errorf("%sLATENCY_MIN_MS: must not be negative", prefix)
	}
	if s.LatencyMaxMs != 0 && s.LatencyMaxMs < s.LatencyMinMs {
		return fmt.Errorf("%sLATENCY_MAX_MS: must not be below %sLATENCY_MIN_MS", prefix, prefix)
	}
	return nil
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendEmbedded, BackendTemporal:
	default:
		return fmt.Errorf("ORDER_ENGINE_BACKEND: unknown backend %q", c.Backend)
	}
	if c.Backend == BackendTemporal && c.TaskQueue == "" {
		return fmt.Errorf("ORDER_TASK_QUEUE: required for the %s backend", BackendTemporal)
	}
	if c.Backend == BackendEmbedded {
		switch c.Store {
		case store.Memory, store.SQLite:
		case store.Postgres:
			if c.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL: required for the %s store", store.Postgres)
			}
		default:
			return fmt.Errorf("ORDER_STORE: unknown store %q", c.Store)
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("ORDER_WORKERS: must not be negative")
	}
	if c.ReviewTimeout < 0 {
		return fmt.Errorf("ORDER_REVIEW_TIMEOUT: must not be negative")
	}
	if c.ActivityTimeout <= 0 {
		return fmt.Errorf("ORDER_ACTIVITY_TIMEOUT: must be positive")
	}
	if c.ActivityMaxAttempts < 1 {
		return fmt.Errorf("ORDER_ACTIVITY_MAX_ATTEMPTS: must be at least 1")
	}
	faults := []struct {
		prefix   string
		settings FaultSettings
	}{
		{"INVENTORY_", c.Inventory},
		{"PAYMENT_", c.Payment},
		{"SHIPPING_", c.Shipping},
		{"NOTIFICATION_", c.Notification},
	}
	for _, f := range faults {
		if err := f.settings.validate(f.prefix); err != nil {
			return err
		}
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT: unknown format %q", c.LogFormat)
	}
	return nil
}

// StoreConfig selects the embedded engine store.
func (c Config) StoreConfig() store.Config {
	return store.Config{Backend: c.Store, SQLitePath: c.SQLitePath, DatabaseURL: c.DatabaseURL}
}

// ActivityOptions bounds every activity call of the order workflow.
func (c Config) ActivityOptions() engine.ActivityOptions {
	return engine.ActivityOptions{
		StartToCloseTimeout: c.ActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        c.RetryInitialInterval,
			BackoffCoefficient:     2.0,
			MaximumInterval:        c.RetryMaxInterval,
			MaximumAttempts:        int32(c.ActivityMaxAttempts),
			NonRetryableErrorTypes: types.NonRetryableErrorTypes,
		},
	}
}

// Logger builds the structured logger shared by the engine and activities.
func (c Config) Logger(w io.Writer) log.Logger {
	level, _ := parseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(c.LogFormat, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return log.NewStructuredLogger(slog.New(handler))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
	return level, nil
}
