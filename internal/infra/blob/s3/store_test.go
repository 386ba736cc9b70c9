package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"

	"cmip6cat/internal/blob/core"
)

func TestStore_MockedBasicFlow(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	info, err := store.Put(ctx, "tas/file.nc", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "application/x-netcdf"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "tas/file.nc" || info.ContentType != "application/x-netcdf" || info.Location != "s3://mock-bucket/cmip6/tas/file.nc" {
		t.Fatalf("unexpected info %#v", info)
	}
	if _, err := store.Put(ctx, "tas/file.nc", bytes.NewReader([]byte("ignored")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	_, rc, err := store.Get(ctx, "tas/file.nc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "hello" {
		t.Fatalf("get mismatch: %q", string(data))
	}
	list, err := store.List(ctx, "tas/")
	if err != nil || len(list) != 1 || list[0].Key != "tas/file.nc" {
		t.Fatalf("list: %v %+v", err, list)
	}
	if ok, err := store.Delete(ctx, "tas/file.nc"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "tas/file.nc"); err != nil || ok {
		t.Fatalf("second delete: %v %v", ok, err)
	}
}

func TestStore_MissingKeysAreNotFound(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	if _, err := store.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected head ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected get ErrNotFound, got %v", err)
	}
	if _, err := store.Put(ctx, "", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestStore_New(t *testing.T) {
	s, err := New(context.Background(), Config{Bucket: "bkt", Prefix: "/data/", Endpoint: "https://mock.s3.local", PathStyle: true, AccessKeyID: "AKIA", SecretAccessKey: "SECRET"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Driver() != core.DriverS3 || s.Locate("a.nc") != "s3://bkt/data/a.nc" {
		t.Fatalf("unexpected store %+v", s)
	}
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}

func TestFromHeadNilFields(t *testing.T) {
	store := NewMockForTests()
	info := store.fromHead("k", 10, nil, aws.String("\"etagval\""), map[string]string{"x": "y"}, nil)
	if info.ETag != "etagval" || info.ContentType != "" || info.Key != "k" || info.Size != 10 || info.LastModified.IsZero() {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestMockTransportUnsupported(t *testing.T) {
	rt := &mockTransport{objects: make(map[string]mockObject)}
	req, _ := http.NewRequest(http.MethodPatch, "https://mock.s3.local/bucket/key", nil)
	resp, _ := rt.RoundTrip(req)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", resp.StatusCode)
	}
}

func TestDecodeChunked(t *testing.T) {
	if _, ok := decodeChunked([]byte("not-chunked")); ok {
		t.Fatalf("plain payload should not decode")
	}
	if _, ok := decodeChunked([]byte("5\r\nabc\r\n0\r\n")); ok {
		t.Fatalf("size mismatch should fail")
	}
	if b, ok := decodeChunked([]byte("5;chunk-signature=abc\r\nhello\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n")); !ok || string(b) != "hello" {
		t.Fatalf("expected decode hello, got %q", b)
	}
}
