// Package store provides the items.Store backends: Postgres for deployments
// and an in-memory map for tests and database-less runs.
package store

import (
	"context"
	"fmt"

	"github.com/Rzhvms/CurrencyParser/internal/config"
	"github.com/Rzhvms/CurrencyParser/internal/items"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (items.Store, error) {
	switch cfg.Driver {
	case DriverPostgres, "":
		return NewPostgresStore(ctx, cfg)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
