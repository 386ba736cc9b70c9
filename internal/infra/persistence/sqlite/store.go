// Package sqlite persists the node-status cache and catalog snapshots in a
// single SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cmip6cat/internal/infra/persistence/memory"
	"cmip6cat/internal/persistence/core"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ core.Store = (*Store)(nil)

// Store keeps state in memory and writes each changed bucket to SQLite as a
// JSON blob.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database at path and loads its buckets.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "cmip6cat.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps modernc from returning SQLITE_BUSY under concurrent saves
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{}
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		snapshot[bucket] = payload
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	s.ImportState(snapshot)
	return nil
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
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE bucket = ?`, memory.CatalogBucket(name)); err != nil {
		return true, fmt.Errorf("delete catalog %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) persist(ctx context.Context, bucket string) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.Bucket(bucket)
	if !ok {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, payload); err != nil {
		return fmt.Errorf("upsert %s: %w", bucket, err)
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
