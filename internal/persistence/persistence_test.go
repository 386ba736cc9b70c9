package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"cmip6cat/internal/infra/persistence/memory"
	"cmip6cat/internal/infra/persistence/postgres"
	"cmip6cat/internal/infra/persistence/postgres/testutil"
	"cmip6cat/internal/infra/persistence/sqlite"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	store, err = Open(ctx, Config{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if _, ok := store.(*sqlite.Store); !ok {
		t.Fatalf("expected sqlite store by default, got %T", store)
	}
	_ = store.Close()

	db, _ := testutil.NewStubDB()
	restore := postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	store, err = Open(ctx, Config{Driver: DriverPostgres, DSN: "postgres://stub"})
	if err != nil {
		t.Fatalf("postgres: %v", err)
	}
	if _, ok := store.(*postgres.Store); !ok {
		t.Fatalf("expected postgres store, got %T", store)
	}

	if _, err := Open(ctx, Config{Driver: "redis"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
