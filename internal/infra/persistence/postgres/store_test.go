package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"cmip6cat/internal/infra/persistence/postgres/testutil"
	"cmip6cat/internal/persistence/core"
)

func openStub(t *testing.T) (*Store, *testutil.StateConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func TestNewStoreEnsuresStateTable(t *testing.T) {
	_, conn := openStub(t)
	if len(conn.Statements) < 2 || !strings.HasPrefix(conn.Statements[0], "CREATE TABLE IF NOT EXISTS state") ||
		!strings.HasPrefix(conn.Statements[1], "SELECT bucket, payload FROM state") {
		t.Fatalf("expected DDL then hydrate, got %v", conn.Statements)
	}
}

func TestSavePersistsBucketsAndReloads(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore(ctx, "postgres://ignored")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	checked := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := store.SaveNodeStatus(ctx, []core.NodeStatus{{Node: "esgf.example.org", Reachable: true, CheckedAt: checked}}); err != nil {
		t.Fatalf("save status: %v", err)
	}
	if err := store.SaveCatalog(ctx, "tas.historical", []byte(`{"id":"c"}`)); err != nil {
		t.Fatalf("save catalog: %v", err)
	}
	if got := strings.Join(conn.Buckets(), ","); got != "catalog/tas.historical,node_status" {
		t.Fatalf("unexpected buckets %s", got)
	}
	raw, _ := conn.Payload("node_status")
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil || len(rows) != 1 || rows[0]["node"] != "esgf.example.org" || rows[0]["reachable"] != true {
		t.Fatalf("unexpected node_status payload %s (%v)", raw, err)
	}
	if p, _ := conn.Payload("catalog/tas.historical"); string(p) != `{"id":"c"}` {
		t.Fatalf("catalog payload = %s", p)
	}

	reloaded, err := NewStore(ctx, "postgres://ignored")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	statuses, err := reloaded.LoadNodeStatus(ctx)
	if err != nil || len(statuses) != 1 || !statuses[0].CheckedAt.Equal(checked) {
		t.Fatalf("statuses = %+v (%v)", statuses, err)
	}
	if ok, err := reloaded.DeleteCatalog(ctx, "tas.historical"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if _, ok := conn.Payload("catalog/tas.historical"); ok {
		t.Fatalf("catalog row should be deleted")
	}
	if _, err := reloaded.LoadCatalog(ctx, "tas.historical"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPersistFailuresSurfaceAndRollBack(t *testing.T) {
	ctx := context.Background()
	store, conn := openStub(t)
	if err := store.SaveCatalog(ctx, "kept", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}

	conn.FailBegin = true
	if err := store.SaveCatalog(ctx, "kept", []byte(`{"v":2}`)); !errors.Is(err, testutil.ErrBegin) {
		t.Fatalf("expected begin failure, got %v", err)
	}
	conn.FailBegin = false
	conn.FailUpsert = true
	if err := store.SaveNodeStatus(ctx, []core.NodeStatus{{Node: "a"}}); !errors.Is(err, testutil.ErrUpsert) {
		t.Fatalf("expected upsert failure, got %v", err)
	}
	conn.FailUpsert = false
	conn.FailCommit = true
	if err := store.SaveCatalog(ctx, "new", []byte(`{}`)); !errors.Is(err, testutil.ErrCommit) {
		t.Fatalf("expected commit failure, got %v", err)
	}
	conn.FailCommit = false

	payload, err := store.LoadCatalog(ctx, "kept")
	if err != nil || string(payload) != `{"v":1}` {
		t.Fatalf("memory diverged from table: %s (%v)", payload, err)
	}
	if _, err := store.LoadCatalog(ctx, "new"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("failed save is readable: %v", err)
	}
	if statuses, _ := store.LoadNodeStatus(ctx); len(statuses) != 0 {
		t.Fatalf("failed status save is readable: %+v", statuses)
	}
	if got := strings.Join(conn.Buckets(), ","); got != "catalog/kept" {
		t.Fatalf("unexpected committed buckets %s", got)
	}
}

func TestNewStoreHydratesSeededRows(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	conn.Seed("catalog/pr.ssp585", []byte(`{"id":"p"}`))
	conn.Seed("catalog/empty", nil)
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	store, err := NewStore(ctx, "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if p, err := store.LoadCatalog(ctx, "pr.ssp585"); err != nil || string(p) != `{"id":"p"}` {
		t.Fatalf("hydrate: %s (%v)", p, err)
	}
	if _, err := store.LoadCatalog(ctx, "empty"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("empty payload should be skipped, got %v", err)
	}
}

func TestNewStoreFailures(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("boom") })
	if _, err := NewStore(context.Background(), ""); err == nil {
		t.Fatalf("expected open failure")
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	if _, err := NewStore(context.Background(), ""); !errors.Is(err, testutil.ErrPing) {
		t.Fatalf("expected ping failure, got %v", err)
	}
	restore()

	db, conn = testutil.NewStubDB()
	conn.RowsErr = errors.New("connection reset")
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "iterate state") {
		t.Fatalf("expected iterate failure, got %v", err)
	}
}
