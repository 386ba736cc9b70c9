package liveness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"cmip6cat/internal/persistence"
)

// FileCache keeps statuses in a JSON file holding a list of
// {node, reachable, checked_at} records. The older map form
// {"node": true, ...} is read with the file modification time as the check
// time.
type FileCache struct {
	Path string
}

// Load returns nil without error when the file does not exist.
func (c FileCache) Load(_ context.Context) ([]Status, error) {
	data, err := os.ReadFile(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read node status cache: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '{' {
		var legacy map[string]bool
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return nil, fmt.Errorf("decode node status cache %s: %w", c.Path, err)
		}
		info, err := os.Stat(c.Path)
		if err != nil {
			return nil, fmt.Errorf("stat node status cache: %w", err)
		}
		statuses := make([]Status, 0, len(legacy))
		for node, ok := range legacy {
			statuses = append(statuses, Status{Node: node, Reachable: ok, CheckedAt: info.ModTime().UTC()})
		}
		sort.Slice(statuses, func(i, j int) bool { return statuses[i].Node < statuses[j].Node })
		return statuses, nil
	}
	var statuses []Status
	if err := json.Unmarshal(trimmed, &statuses); err != nil {
		return nil, fmt.Errorf("decode node status cache %s: %w", c.Path, err)
	}
	return statuses, nil
}

// Store writes statuses atomically through a temporary file.
func (c FileCache) Store(_ context.Context, statuses []Status) error {
	sorted := append([]Status(nil), statuses...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Node < sorted[j].Node })
	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".node-status-*")
	if err != nil {
		return fmt.Errorf("create temp cache: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.Path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}

// StoreCache keeps statuses in a persistence store.
type StoreCache struct {
	Backend persistence.Store
}

func (c StoreCache) Load(ctx context.Context) ([]Status, error) {
	rows, err := c.Backend.LoadNodeStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Status, len(rows))
	for i, r := range rows {
		out[i] = Status(r)
	}
	return out, nil
}

func (c StoreCache) Store(ctx context.Context, statuses []Status) error {
	rows := make([]persistence.NodeStatus, len(statuses))
	for i, st := range statuses {
		rows[i] = persistence.NodeStatus(st)
	}
	return c.Backend.SaveNodeStatus(ctx, rows)
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu       sync.Mutex
	statuses []Status
}

func (c *MemoryCache) Load(context.Context) ([]Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Status(nil), c.statuses...), nil
}

func (c *MemoryCache) Store(_ context.Context, statuses []Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append([]Status(nil), statuses...)
	return nil
}
