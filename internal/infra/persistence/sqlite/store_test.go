package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cmip6cat/internal/persistence/core"
)

func TestSQLiteStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := NewStore(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	checked := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	statuses := []core.NodeStatus{
		{Node: "b.example.org", Reachable: false, CheckedAt: checked},
		{Node: "a.example.org", Reachable: true, CheckedAt: checked},
	}
	if err := store.SaveNodeStatus(ctx, statuses); err != nil {
		t.Fatalf("save status: %v", err)
	}
	if err := store.SaveCatalog(ctx, "historical", []byte(`{"id":"Catalog:x"}`)); err != nil {
		t.Fatalf("save catalog: %v", err)
	}
	if err := store.SaveCatalog(ctx, "doomed", []byte(`{}`)); err != nil {
		t.Fatalf("save catalog: %v", err)
	}
	if ok, err := store.DeleteCatalog(ctx, "doomed"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	got, err := reloaded.LoadNodeStatus(ctx)
	if err != nil {
		t.Fatalf("load status: %v", err)
	}
	if len(got) != 2 || got[0].Node != "a.example.org" || !got[0].Reachable || !got[0].CheckedAt.Equal(checked) {
		t.Fatalf("unexpected statuses %+v", got)
	}
	names, err := reloaded.ListCatalogs(ctx)
	if err != nil || len(names) != 1 || names[0] != "historical" {
		t.Fatalf("catalogs = %v (%v)", names, err)
	}
	payload, err := reloaded.LoadCatalog(ctx, "historical")
	if err != nil || string(payload) != `{"id":"Catalog:x"}` {
		t.Fatalf("payload = %s (%v)", payload, err)
	}
	if _, err := reloaded.LoadCatalog(ctx, "doomed"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if reloaded.Path() != path {
		t.Fatalf("path = %s", reloaded.Path())
	}
}

func TestSQLiteStoreCreatesStateTable(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	var tableName string
	if err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name= ?", "state").Scan(&tableName); err != nil {
		t.Fatalf("lookup state table: %v", err)
	}
	if tableName != "state" {
		t.Fatalf("expected state table, got %s", tableName)
	}
}

func TestSQLiteStoreRejectsBadCatalogs(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	if err := store.SaveCatalog(ctx, "a/b", []byte(`{}`)); err == nil {
		t.Fatalf("expected name error")
	}
	if err := store.SaveCatalog(ctx, "a", []byte(`{`)); err == nil {
		t.Fatalf("expected payload error")
	}
	if ok, err := store.DeleteCatalog(ctx, "missing"); err != nil || ok {
		t.Fatalf("delete missing: %v %v", ok, err)
	}
}

func TestFailedPersistLeavesMemoryUnchanged(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	if err := store.SaveCatalog(ctx, "kept", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := store.SaveCatalog(cancelled, "lost", []byte(`{}`)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := store.SaveCatalog(cancelled, "kept", []byte(`{"v":2}`)); err == nil {
		t.Fatalf("expected overwrite to fail")
	}
	names, err := store.ListCatalogs(ctx)
	if err != nil || len(names) != 1 || names[0] != "kept" {
		t.Fatalf("unsaved catalog listed: %v (%v)", names, err)
	}
	if payload, err := store.LoadCatalog(ctx, "kept"); err != nil || string(payload) != `{"v":1}` {
		t.Fatalf("payload = %s (%v)", payload, err)
	}
	if err := store.SaveNodeStatus(cancelled, []core.NodeStatus{{Node: "a"}}); err == nil {
		t.Fatalf("expected status save to fail")
	}
	if got, _ := store.LoadNodeStatus(ctx); len(got) != 0 {
		t.Fatalf("unsaved statuses visible: %+v", got)
	}
}
