// Package postgres provides a Postgres-backed store that mirrors the
// in-memory semantics and snapshots each changed bucket to a state table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"cmip6cat/internal/infra/persistence/memory"
	"cmip6cat/internal/persistence/core"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ core.Store = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/cmip6cat?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while serving reads from memory.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using dsn (defaultDSN when empty),
// ensures the state table exists and hydrates memory from it.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore()
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{}
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		snapshot[bucket] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

// SaveNodeStatus replaces the cached statuses and persists them.
func (s *Store) SaveNodeStatus(ctx context.Context, statuses []core.NodeStatus) error {
	return s.write(ctx, memory.NodeStatusBucket, func() error { return s.Store.SaveNodeStatus(ctx, statuses) })
}

// SaveCatalog stores a catalog payload and persists it.
func (s *Store) SaveCatalog(ctx context.Context, name string, payload []byte) error {
	return s.write(ctx, memory.CatalogBucket(name), func() error { return s.Store.SaveCatalog(ctx, name, payload) })
}

// write applies fn to memory and persists bucket. The memory change is
// undone when the table write fails, so reads never report unsaved state.
func (s *Store) write(ctx context.Context, bucket string, fn func() error) error {
	prev, had := s.Bucket(bucket)
	if err := fn(); err != nil {
		return err
	}
	if err := s.persist(ctx, bucket); err != nil {
		s.RestoreBucket(bucket, prev, had)
		return err
	}
	return nil
}

// DeleteCatalog removes the catalog from memory and from the table.
func (s *Store) DeleteCatalog(ctx context.Context, name string) (bool, error) {
	ok, err := s.Store.DeleteCatalog(ctx, name)
	if err != nil || !ok {
		return ok, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE bucket=$1`, memory.CatalogBucket(name)); err != nil {
		return true, fmt.Errorf("delete catalog %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) persist(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.Bucket(bucket)
	if !ok {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, payload); err != nil {
		return fmt.Errorf("upsert %s: %w", bucket, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
