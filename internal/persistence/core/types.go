// Package core defines the persistence contract shared by the storage
// backends without depending on any of them.
package core

import (
	"context"
	"errors"
	"time"
)

// Driver identifies a persistence backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ErrNotFound is returned when a named catalog does not exist.
var ErrNotFound = errors.New("persistence: not found")

// NodeStatus is the last known reachability of a data node.
type NodeStatus struct {
	Node      string    `json:"node"`
	Reachable bool      `json:"reachable"`
	CheckedAt time.Time `json:"checked_at"`
}

// Store keeps the node-status cache and named catalog snapshots. Catalog
// payloads are opaque encoded snapshots.
type Store interface {
	LoadNodeStatus(ctx context.Context) ([]NodeStatus, error)
	SaveNodeStatus(ctx context.Context, statuses []NodeStatus) error
	SaveCatalog(ctx context.Context, name string, payload []byte) error
	LoadCatalog(ctx context.Context, name string) ([]byte, error)
	ListCatalogs(ctx context.Context) ([]string, error)
	DeleteCatalog(ctx context.Context, name string) (bool, error)
	Close() error
}
