// Package core defines the blob storage abstractions shared by the backend
// implementations.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverFilesystem stores blobs as plain files under a root directory.
	DriverFilesystem Driver = "fs"
	// DriverS3 represents an S3 / MinIO compatible implementation.
	DriverS3 Driver = "s3"
	// DriverMemory keeps blobs in process memory (tests).
	DriverMemory Driver = "memory"
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string            // MIME type, optional
	Metadata    map[string]string // small, flat key-value
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	Location     string            `json:"location,omitempty"`
}

// Store is a minimal S3-like object store.
//
// Put is create-only and must fail with ErrExists when key is present.
// Get and Head fail with an error wrapping ErrNotFound for missing keys.
// Delete reports (false, nil) when nothing was removed.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// Locator is implemented by stores that can name the place a key lives,
// e.g. an absolute file path or an s3:// URL.
type Locator interface {
	Locate(key string) string
}

var (
	// ErrNotFound is wrapped by lookups of missing keys.
	ErrNotFound = errors.New("blobstore: not found")
	// ErrExists is wrapped by Put when the key is already taken.
	ErrExists = errors.New("blobstore: already exists")
)
