package catalog

import (
	"fmt"
	"sort"

	"cmip6cat/pkg/facet"
)

// Dataset groups the Files of one model, experiment, member and variable,
// ordered by start date. A Dataset always has at least one File.
type Dataset struct {
	files []File
}

// NewDataset orders files by interval. All files must agree on the dataset
// identity facets.
func NewDataset(files []File) (Dataset, error) {
	if len(files) == 0 {
		return Dataset{}, fmt.Errorf("%w: dataset without files", ErrInvalidArgument)
	}
	key := datasetKeyOf(files[0].Value)
	for _, f := range files[1:] {
		if datasetKeyOf(f.Value) != key {
			return Dataset{}, &MalformedRecordError{
				Index:    -1,
				Identity: f.ID(),
				Err:      fmt.Errorf("disagrees with %s on dataset identity", files[0].ID()),
			}
		}
	}
	sorted := make([]File, len(files))
	copy(sorted, files)
	sortFiles(sorted)
	return Dataset{files: harmonize(sorted)}, nil
}

func sortFiles(files []File) {
	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i].Interval(), files[j].Interval()
		if c := a.Start.Compare(b.Start); c != 0 {
			return c < 0
		}
		return a.End.Before(b.End)
	})
}

// withFiles returns a Dataset over the files kept by fn, which may also
// replace a file. It reports false when nothing survives. Once nodes are
// filtered any surviving covering file supersedes the files inside it.
func (d Dataset) withFiles(nodesFiltered bool, fn func(File) (File, bool)) (Dataset, bool) {
	var out []File
	for _, f := range d.files {
		if nf, ok := fn(f); ok {
			out = append(out, nf)
		}
	}
	if len(out) == 0 {
		return Dataset{}, false
	}
	out, _ = supersede(out, nodesFiltered)
	return Dataset{files: harmonize(out)}, true
}

// supersede drops files whose interval lies strictly inside another file of
// the same dataset. Partially overlapping files are kept. Unless anyCover is
// set, the covering file must also be hosted on every node of the inner
// file: an inner file with a copy the container lacks stays until
// reachability is known.
func supersede(files []File, anyCover bool) (kept, dropped []File) {
	for i, f := range files {
		inner := f.Interval()
		superseded := false
		for j, g := range files {
			if i == j || !g.Interval().Contains(inner) || g.Interval().Equal(inner) {
				continue
			}
			if anyCover || g.hostsAll(f) {
				superseded = true
				break
			}
		}
		if superseded {
			dropped = append(dropped, f)
		} else {
			kept = append(kept, f)
		}
	}
	return kept, dropped
}

// harmonize ranks, in every file, the entries whose (table_id, version,
// grid_label) key is offered by all files of the dataset ahead of the
// others, so a dataset is fetched from one consistent publication when it
// can be. Shared keys keep the order in which the first file ranks them;
// the remaining entries keep their relative order.
func harmonize(files []File) []File {
	if len(files) < 2 {
		return files
	}
	rank := make(map[string]int)
	for i, e := range files[0].entries {
		if _, ok := rank[e.entryKey()]; !ok {
			rank[e.entryKey()] = i
		}
	}
	for _, f := range files[1:] {
		offered := make(map[string]bool, len(f.entries))
		for _, e := range f.entries {
			offered[e.entryKey()] = true
		}
		for k := range rank {
			if !offered[k] {
				delete(rank, k)
			}
		}
	}
	if len(rank) == 0 {
		return files
	}
	out := make([]File, len(files))
	for i, f := range files {
		entries := make([]Entry, len(f.entries))
		copy(entries, f.entries)
		sort.SliceStable(entries, func(a, b int) bool {
			ra, sharedA := rank[entries[a].entryKey()]
			rb, sharedB := rank[entries[b].entryKey()]
			if sharedA && sharedB {
				return ra < rb
			}
			return sharedA && !sharedB
		})
		out[i] = File{entries: entries}
	}
	return out
}

// Files returns the files ordered by start date.
func (d Dataset) Files() []File {
	out := make([]File, len(d.files))
	copy(out, d.files)
	return out
}

func (d Dataset) Len() int { return len(d.files) }

// Value returns a dataset identity facet, or the facet of the first file's
// preferred entry for any other name.
func (d Dataset) Value(name string) string { return d.files[0].Value(name) }

// ID returns the textual identity of the dataset.
func (d Dataset) ID() string {
	return facet.FormatIdentity("Dataset", facet.DatasetKeys, d.Value)
}

func (d Dataset) String() string { return d.ID() }

// Interval spans the earliest start to the latest end.
func (d Dataset) Interval() facet.Interval {
	iv := d.files[0].Interval()
	for _, f := range d.files[1:] {
		if end := f.Interval().End; end.After(iv.End) {
			iv.End = end
		}
	}
	return iv
}

// Coverage is the union of the file intervals.
func (d Dataset) Coverage() []facet.Interval {
	ivs := make([]facet.Interval, len(d.files))
	for i, f := range d.files {
		ivs[i] = f.Interval()
	}
	return facet.Coverage(ivs)
}

// Entries counts the entries across files.
func (d Dataset) Entries() int {
	n := 0
	for _, f := range d.files {
		n += f.Len()
	}
	return n
}

func (d Dataset) key() string { return datasetKeyOf(d.Value) }
