package catalog

import (
	"fmt"
	"sort"

	"cmip6cat/pkg/facet"
)

// File is the set of entries holding the same scientific content, ranked by
// preference. A File always has at least one entry.
type File struct {
	entries []Entry
}

// NewFile ranks entries with ord and drops duplicate identities, keeping the
// preferred copy. All entries must agree on the File identity facets.
func NewFile(entries []Entry, ord Ordering) (File, error) {
	if len(entries) == 0 {
		return File{}, fmt.Errorf("%w: file without entries", ErrInvalidArgument)
	}
	key := entries[0].fileKey()
	for _, e := range entries[1:] {
		if e.fileKey() != key {
			return File{}, &MalformedRecordError{
				Index:    -1,
				Identity: e.ID(),
				Err:      fmt.Errorf("disagrees with %s on file identity", entries[0].ID()),
			}
		}
	}
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return ord.Compare(sorted[i], sorted[j]) < 0 })
	seen := make(map[string]struct{}, len(sorted))
	out := sorted[:0]
	for _, e := range sorted {
		id := e.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, e)
	}
	return File{entries: out}, nil
}

// withEntries returns a File over a subset of f's entries in their existing
// order, or false when the subset is empty.
func (f File) withEntries(keep func(Entry) bool) (File, bool) {
	var out []Entry
	for _, e := range f.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return File{}, false
	}
	return File{entries: out}, true
}

// Entries returns the entries in preference order.
func (f File) Entries() []Entry {
	out := make([]Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

func (f File) Len() int { return len(f.entries) }

// Preferred returns the highest ranked entry.
func (f File) Preferred() Entry { return f.entries[0] }

func (f File) Interval() facet.Interval { return f.entries[0].interval }

// Value returns a facet of the preferred entry.
func (f File) Value(name string) string { return f.entries[0].Value(name) }

// ID returns the textual identity of the file. Dates render as resolved
// days since the entries of one file may write them at different
// precisions.
func (f File) ID() string {
	iv := f.Interval()
	return facet.FormatIdentity("File", facet.FileKeys, func(name string) string {
		switch name {
		case facet.StartDate:
			return dayKey(iv.Start)
		case facet.EndDate:
			return dayKey(iv.End)
		}
		return f.Value(name)
	})
}

func (f File) String() string { return f.ID() }

func (f File) key() string { return f.entries[0].fileKey() }

// hostsAll reports whether every node serving inner also serves f.
func (f File) hostsAll(inner File) bool {
	nodes := make(map[string]struct{}, len(f.entries))
	for _, e := range f.entries {
		nodes[e.node] = struct{}{}
	}
	for _, e := range inner.entries {
		if _, ok := nodes[e.node]; !ok {
			return false
		}
	}
	return true
}
