// Package store selects an engine.Store backend from configuration.
package store

import (
	"context"
	"fmt"

	"order-fulfillment-engine/order-processing/engine"
	"order-fulfillment-engine/order-processing/store/memory"
	"order-fulfillment-engine/order-processing/store/postgres"
	"order-fulfillment-engine/order-processing/store/sqlite"
)

const (
	Memory   = "memory"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// Config names a backend and its location.
type Config struct {
	Backend     string
	SQLitePath  string
	DatabaseURL string
}

// Open returns the configured store and a function releasing it.
func Open(ctx context.Context, cfg Config) (engine.Store, func() error, error) {
	switch cfg.Backend {
	case "", Memory:
		return memory.New(), func() error { return nil }, nil
	case SQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case Postgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("database url is required for the %s store", Postgres)
		}
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
