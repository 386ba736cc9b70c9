package liveness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cmip6cat/internal/platform/logger"
)

// DefaultTTL is how long cached statuses stay fresh.
const DefaultTTL = 10 * time.Minute

// ErrNoProbe is returned by Refresh when no probe is configured.
var ErrNoProbe = errors.New("liveness: no probe configured")

// Cached serves snapshots from a Cache and refreshes them through a Probe
// once they are older than the TTL. When refreshing is impossible the stale
// snapshot is served with a warning.
type Cached struct {
	cache Cache
	probe Probe
	ttl   time.Duration
	now   func() time.Time
	log   *logger.Logger

	mu      sync.Mutex
	current *Snapshot
}

// CachedOption configures a Cached provider.
type CachedOption func(*Cached)

func WithProbe(p Probe) CachedOption              { return func(c *Cached) { c.probe = p } }
func WithTTL(ttl time.Duration) CachedOption      { return func(c *Cached) { c.ttl = ttl } }
func WithClock(now func() time.Time) CachedOption { return func(c *Cached) { c.now = now } }
func WithLogger(l *logger.Logger) CachedOption    { return func(c *Cached) { c.log = l } }

// NewCached returns a provider over cache.
func NewCached(cache Cache, opts ...CachedOption) *Cached {
	c := &Cached{cache: cache, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	return c
}

// Snapshot returns the cached snapshot, refreshing it first when stale and a
// probe is available.
func (c *Cached) Snapshot(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		statuses, err := c.cache.Load(ctx)
		if err != nil {
			if c.probe == nil {
				return Snapshot{}, fmt.Errorf("load node status cache: %w", err)
			}
			c.log.Warn("node status cache unreadable, probing", "error", err)
		}
		snap := NewSnapshot(statuses)
		c.current = &snap
	}
	if !c.stale(*c.current) {
		return *c.current, nil
	}
	if c.probe == nil {
		c.log.Warn("node status cache is stale", "checked_at", c.current.OldestCheck(), "ttl", c.ttl)
		return *c.current, nil
	}
	snap, err := c.refreshLocked(ctx)
	if err != nil {
		if c.current.Len() == 0 {
			return Snapshot{}, err
		}
		c.log.Warn("node status refresh failed, serving stale cache", "error", err)
		return *c.current, nil
	}
	return snap, nil
}

// Refresh probes now and stores the result, regardless of age.
func (c *Cached) Refresh(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Cached) refreshLocked(ctx context.Context) (Snapshot, error) {
	if c.probe == nil {
		return Snapshot{}, ErrNoProbe
	}
	statuses, err := c.probe.Probe(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("probe nodes: %w", err)
	}
	now := c.now().UTC()
	for i := range statuses {
		if statuses[i].CheckedAt.IsZero() {
			statuses[i].CheckedAt = now
		}
	}
	if err := c.cache.Store(ctx, statuses); err != nil {
		return Snapshot{}, fmt.Errorf("store node status cache: %w", err)
	}
	snap := NewSnapshot(statuses)
	c.current = &snap
	c.log.Info("node status refreshed", "nodes", snap.Len(), "reachable", len(snap.Reachables()))
	return snap, nil
}

func (c *Cached) stale(s Snapshot) bool {
	if s.Len() == 0 {
		return true
	}
	return c.now().Sub(s.OldestCheck()) > c.ttl
}
