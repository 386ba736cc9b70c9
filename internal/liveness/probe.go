package liveness

import (
	"context"
	"fmt"
	"sort"
)

// StaticProbe reports the same reachability on every call.
type StaticProbe map[string]bool

func (p StaticProbe) Probe(context.Context) ([]Status, error) {
	out := make([]Status, 0, len(p))
	for node, ok := range p {
		out = append(out, Status{Node: node, Reachable: ok})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out, nil
}

// FileProbe reads statuses produced by an external checker, in either
// FileCache format. It backs the out-of-band import command.
type FileProbe struct {
	Path string
}

func (p FileProbe) Probe(ctx context.Context) ([]Status, error) {
	statuses, err := FileCache{Path: p.Path}.Load(ctx)
	if err != nil {
		return nil, err
	}
	if statuses == nil {
		return nil, fmt.Errorf("node status file %s is missing or empty", p.Path)
	}
	return statuses, nil
}
