// Package persistence re-exports the persistence contract and opens the
// configured backend.
package persistence

import (
	"context"
	"fmt"

	"cmip6cat/internal/infra/persistence/memory"
	"cmip6cat/internal/infra/persistence/postgres"
	"cmip6cat/internal/infra/persistence/sqlite"
	"cmip6cat/internal/persistence/core"
)

type (
	// Driver identifies a persistence backend.
	Driver = core.Driver
	// NodeStatus is the last known reachability of a data node.
	NodeStatus = core.NodeStatus
	// Store keeps node statuses and catalog snapshots.
	Store = core.Store
)

const (
	DriverMemory   = core.DriverMemory
	DriverSQLite   = core.DriverSQLite
	DriverPostgres = core.DriverPostgres
)

// ErrNotFound is returned when a named catalog does not exist.
var ErrNotFound = core.ErrNotFound

// Config selects and configures a backend.
type Config struct {
	Driver Driver `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// Open returns the store selected by cfg. An empty driver means sqlite.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		s, err := sqlite.NewStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := postgres.NewStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown persistence driver %s", driver)
	}
}
