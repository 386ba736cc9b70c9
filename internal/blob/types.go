// Package blob selects and exposes the blob storage backends that downloads
// are written into. Callers depend on blob.Store rather than the infra
// implementations.
package blob

import (
	"cmip6cat/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// Locator names where a key is stored.
	Locator = core.Locator
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrNotFound is wrapped by lookups of missing keys.
	ErrNotFound = core.ErrNotFound
	// ErrExists is wrapped by Put on an existing key.
	ErrExists = core.ErrExists
)

// Locate returns where key lives in s, falling back to the key itself when
// the store cannot say.
func Locate(s Store, key string) string {
	if l, ok := s.(Locator); ok {
		return l.Locate(key)
	}
	return key
}
