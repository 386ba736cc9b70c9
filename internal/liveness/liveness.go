// Package liveness models point-in-time reachability of data nodes and the
// caches and providers that supply it. Probing mechanisms plug in through
// the Probe interface.
package liveness

import (
	"context"
	"sort"
	"time"
)

// Status is the reachability of one node at CheckedAt.
type Status struct {
	Node      string    `json:"node"`
	Reachable bool      `json:"reachable"`
	CheckedAt time.Time `json:"checked_at"`
}

// Snapshot is an immutable set of node statuses. Nodes without a status are
// unreachable.
type Snapshot struct {
	statuses map[string]Status
}

// NewSnapshot indexes statuses by node. Later duplicates win.
func NewSnapshot(statuses []Status) Snapshot {
	m := make(map[string]Status, len(statuses))
	for _, st := range statuses {
		m[st.Node] = st
	}
	return Snapshot{statuses: m}
}

// Reachable reports whether node was reachable when last checked.
func (s Snapshot) Reachable(node string) bool { return s.statuses[node].Reachable }

// Status returns the recorded status of node.
func (s Snapshot) Status(node string) (Status, bool) {
	st, ok := s.statuses[node]
	return st, ok
}

func (s Snapshot) Len() int { return len(s.statuses) }

// Statuses returns every status sorted by node.
func (s Snapshot) Statuses() []Status {
	out := make([]Status, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out
}

// Reachables returns the reachable node names sorted.
func (s Snapshot) Reachables() []string {
	var out []string
	for _, st := range s.Statuses() {
		if st.Reachable {
			out = append(out, st.Node)
		}
	}
	return out
}

// OldestCheck returns the earliest CheckedAt, or the zero time when empty.
func (s Snapshot) OldestCheck() time.Time {
	var oldest time.Time
	for _, st := range s.statuses {
		if oldest.IsZero() || st.CheckedAt.Before(oldest) {
			oldest = st.CheckedAt
		}
	}
	return oldest
}

// Provider supplies the current snapshot.
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Probe checks nodes and reports their status. Implementations own the
// probing mechanism.
type Probe interface {
	Probe(ctx context.Context) ([]Status, error)
}

// Cache stores the last probe result.
type Cache interface {
	Load(ctx context.Context) ([]Status, error)
	Store(ctx context.Context, statuses []Status) error
}

// Static is a Provider returning a fixed snapshot.
type Static Snapshot

func (s Static) Snapshot(context.Context) (Snapshot, error) { return Snapshot(s), nil }
