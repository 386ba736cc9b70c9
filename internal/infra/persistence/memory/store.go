// Package memory provides an in-memory implementation of the persistence
// store used for tests and ephemeral runs. The SQL backends embed it and
// snapshot its buckets after every write.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cmip6cat/internal/persistence/core"
)

var _ core.Store = (*Store)(nil)

// Bucket names used in snapshots.
const (
	NodeStatusBucket = "node_status"
	catalogPrefix    = "catalog/"
)

// CatalogBucket returns the bucket holding the named catalog.
func CatalogBucket(name string) string { return catalogPrefix + name }

// Snapshot maps bucket names to JSON payloads.
type Snapshot map[string][]byte

// Store keeps buckets in memory.
type Store struct {
	mu      sync.RWMutex
	buckets map[string][]byte
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{buckets: make(map[string][]byte)}
}

// LoadNodeStatus returns the cached statuses sorted by node.
func (s *Store) LoadNodeStatus(_ context.Context) ([]core.NodeStatus, error) {
	s.mu.RLock()
	payload, ok := s.buckets[NodeStatusBucket]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var statuses []core.NodeStatus
	if err := json.Unmarshal(payload, &statuses); err != nil {
		return nil, fmt.Errorf("decode %s: %w", NodeStatusBucket, err)
	}
	return statuses, nil
}

// SaveNodeStatus replaces the cached statuses.
func (s *Store) SaveNodeStatus(_ context.Context, statuses []core.NodeStatus) error {
	sorted := append([]core.NodeStatus(nil), statuses...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Node < sorted[j].Node })
	payload, err := json.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("encode %s: %w", NodeStatusBucket, err)
	}
	s.put(NodeStatusBucket, payload)
	return nil
}

// SaveCatalog stores a catalog payload under name, replacing any previous one.
func (s *Store) SaveCatalog(_ context.Context, name string, payload []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if !json.Valid(payload) {
		return fmt.Errorf("catalog %s: payload is not valid JSON", name)
	}
	s.put(CatalogBucket(name), payload)
	return nil
}

// LoadCatalog returns the payload saved under name.
func (s *Store) LoadCatalog(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.buckets[CatalogBucket(name)]
	if !ok {
		return nil, fmt.Errorf("catalog %s: %w", name, core.ErrNotFound)
	}
	return append([]byte(nil), payload...), nil
}

// ListCatalogs returns the saved catalog names in lexical order.
func (s *Store) ListCatalogs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for bucket := range s.buckets {
		if name, ok := strings.CutPrefix(bucket, catalogPrefix); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// DeleteCatalog removes a saved catalog and reports whether it existed.
func (s *Store) DeleteCatalog(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := CatalogBucket(name)
	if _, ok := s.buckets[bucket]; !ok {
		return false, nil
	}
	delete(s.buckets, bucket)
	return true, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Bucket returns a copy of a raw bucket payload.
func (s *Store) Bucket(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.buckets[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), payload...), true
}

// RestoreBucket puts back a bucket read earlier with Bucket; present false
// removes it.
func (s *Store) RestoreBucket(name string, payload []byte, present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !present {
		delete(s.buckets, name)
		return
	}
	s.buckets[name] = append([]byte(nil), payload...)
}

// ExportState returns a deep copy of every bucket.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.buckets))
	for k, v := range s.buckets {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// ImportState replaces the store contents with snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	buckets := make(map[string][]byte, len(snapshot))
	for k, v := range snapshot {
		buckets[k] = append([]byte(nil), v...)
	}
	s.mu.Lock()
	s.buckets = buckets
	s.mu.Unlock()
}

func (s *Store) put(bucket string, payload []byte) {
	s.mu.Lock()
	s.buckets[bucket] = append([]byte(nil), payload...)
	s.mu.Unlock()
}

// ValidateName reports whether name can be used for a catalog.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("catalog name is required")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("catalog name %q must not contain path separators", name)
	}
	return nil
}
