package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"cmip6cat/internal/blob/core"
)

func TestStore_MissingHeadGet(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if ok, err := store.Delete(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected delete false")
	}
}

func TestStore_RoundTripCopiesData(t *testing.T) {
	store := New()
	ctx := context.Background()
	md := map[string]string{"a": "1"}
	info, err := store.Put(ctx, "k", bytes.NewReader([]byte("v")), core.PutOptions{Metadata: md})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Location != "memory://k" || info.ETag == "" {
		t.Fatalf("info = %+v", info)
	}
	md["a"] = "2"
	if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("v2")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, rc, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if string(b) != "v" || got.Metadata["a"] != "1" {
		t.Fatalf("get = %q %+v", b, got)
	}
	if list, err := store.List(ctx, "k"); err != nil || len(list) != 1 {
		t.Fatalf("list prefix: %v %d", err, len(list))
	}
	if list, _ := store.List(ctx, "z"); len(list) != 0 {
		t.Fatalf("unmatched prefix should be empty")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, fmt.Errorf("fail") }

func TestStore_PutErrorsAndDriver(t *testing.T) {
	store := New()
	if store.Driver() != core.DriverMemory {
		t.Fatalf("expected memory driver")
	}
	if _, err := store.Put(context.Background(), "bad", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected read error")
	}
	if _, err := store.Put(context.Background(), " ", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
	if list, _ := store.List(context.Background(), ""); len(list) != 0 {
		t.Fatalf("failed puts must not store anything")
	}
}
