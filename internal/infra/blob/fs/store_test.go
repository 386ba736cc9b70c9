package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"cmip6cat/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStore_PutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "CMIP6/tas/tas_day.nc", bytes.NewReader([]byte("hello")), core.PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "CMIP6/tas/tas_day.nc" || info.Size != 5 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Location != filepath.Join(store.Root(), "CMIP6", "tas", "tas_day.nc") || store.Locate(info.Key) != info.Location {
		t.Fatalf("location = %s", info.Location)
	}
	if _, err := store.Put(ctx, "CMIP6/tas/tas_day.nc", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := os.Stat(info.Location + metaSuffix); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("no sidecar expected without metadata")
	}
	_, rc, err := store.Get(ctx, "CMIP6/tas/tas_day.nc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(b) != "hello" {
		t.Fatalf("payload = %q", b)
	}
	list, err := store.List(ctx, "CMIP6/")
	if err != nil || len(list) != 1 || list[0].Size != 5 {
		t.Fatalf("unexpected list %+v (%v)", list, err)
	}
	if ok, err := store.Delete(ctx, "CMIP6/tas/tas_day.nc"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "CMIP6/tas/tas_day.nc"); err != nil || ok {
		t.Fatalf("second delete should be false")
	}
	if _, err := store.Head(ctx, "CMIP6/tas/tas_day.nc"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_MetadataSidecar(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "meta/data.nc", bytes.NewReader([]byte("abc")), core.PutOptions{ContentType: "application/x-netcdf", Metadata: map[string]string{"checksum": "x"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	dataPath, metaPath, _ := store.pathFor("meta/data.nc")
	b, err := os.ReadFile(metaPath)
	if err != nil || !bytes.Contains(b, []byte("application/x-netcdf")) {
		t.Fatalf("meta = %s (%v)", b, err)
	}
	info, err := store.Head(ctx, "meta/data.nc")
	if err != nil || info.ContentType != "application/x-netcdf" || info.Metadata["checksum"] != "x" {
		t.Fatalf("head = %+v (%v)", info, err)
	}
	// A sidecar that no longer matches the data is ignored.
	if err := os.WriteFile(dataPath, []byte("changed"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	info, _ = store.Head(ctx, "meta/data.nc")
	if info.ContentType != "" || info.Size != 7 {
		t.Fatalf("stale sidecar applied: %+v", info)
	}
	list, _ := store.List(ctx, "")
	if len(list) != 1 {
		t.Fatalf("sidecars must not be listed: %+v", list)
	}
}

type errorReader struct{}

func (errorReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestStore_PutFailuresLeaveNothingBehind(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "bad.nc", errorReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected copy error")
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := store.Put(cancelled, "cancelled.nc", strings.NewReader("data"), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	entries, _ := os.ReadDir(store.Root())
	if len(entries) != 0 {
		t.Fatalf("temporary files left: %v", entries)
	}
}

func TestStore_ListOrderAndPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for i := 2; i >= 0; i-- {
		k := "folder/f" + strconv.Itoa(i) + ".nc"
		if _, err := store.Put(ctx, k, bytes.NewReader([]byte("data")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	_, _ = store.Put(ctx, "other/x.nc", bytes.NewReader([]byte("x")), core.PutOptions{})
	list, err := store.List(ctx, "folder/")
	if err != nil || len(list) != 3 || list[0].Key != "folder/f0.nc" {
		t.Fatalf("list: %+v (%v)", list, err)
	}
}

func TestSanitizeKeyErrors(t *testing.T) {
	for _, c := range []string{"", "  ", "../escape", "/abs", "a/../../b", "a/../b", "x.nc.meta"} {
		if _, err := sanitizeKey(c); err == nil {
			t.Fatalf("expected error for key %q", c)
		}
	}
	if k, err := sanitizeKey("a//b/./c.nc"); err != nil || k != "a/b/c.nc" {
		t.Fatalf("clean key = %q (%v)", k, err)
	}
}

func TestCorruptSidecarIsAnError(t *testing.T) {
	store := newTempStore(t)
	data := filepath.Join(store.Root(), "bad.nc")
	_ = os.WriteFile(data, []byte("data"), 0o600)
	_ = os.WriteFile(data+metaSuffix, []byte("{"), 0o600)
	if _, err := store.List(context.Background(), ""); err == nil {
		t.Fatalf("expected list error on corrupt meta")
	}
}

func TestNewRejectsFileRoot(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "afile")
	if err := os.WriteFile(filePath, []byte("x"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := New(filePath); err == nil {
		t.Fatalf("expected error when root is file")
	}
}
