package catalog

import (
	"fmt"

	"cmip6cat/pkg/facet"
)

// Snapshot is the serializable form of a Catalog. Entries are stored per
// file in preference order so Restore reproduces the exact structure.
type Snapshot struct {
	ID                 string               `json:"id"`
	Seed               int64                `json:"seed"`
	NodesAreFiltered   bool                 `json:"nodes_are_filtered"`
	MembersAreBalanced bool                 `json:"members_are_balanced"`
	Lineage            []string             `json:"lineage"`
	Diagnostics        []SnapshotDiagnostic `json:"diagnostics,omitempty"`
	Downloads          map[string][]string  `json:"downloads,omitempty"`
	Datasets           [][][]facet.Record   `json:"datasets"`
}

// SnapshotDiagnostic is a diagnostic reduced to text.
type SnapshotDiagnostic struct {
	Step    string `json:"step"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Snapshot captures the catalog for persistence.
func (c Catalog) Snapshot() Snapshot {
	s := Snapshot{
		ID:                 c.ID(),
		Seed:               c.seed,
		NodesAreFiltered:   c.nodesFiltered,
		MembersAreBalanced: c.membersBalanced,
		Lineage:            c.Lineage(),
		Downloads:          c.Downloads(),
		Datasets:           make([][][]facet.Record, len(c.datasets)),
	}
	for _, d := range c.diagnostics {
		msg := ""
		if d.Err != nil {
			msg = d.Err.Error()
		}
		s.Diagnostics = append(s.Diagnostics, SnapshotDiagnostic{Step: d.Step, Kind: d.Kind(), Message: msg})
	}
	for i, ds := range c.datasets {
		files := make([][]facet.Record, len(ds.files))
		for j, f := range ds.files {
			recs := make([]facet.Record, len(f.entries))
			for k, e := range f.entries {
				recs[k] = e.Record()
			}
			files[j] = recs
		}
		s.Datasets[i] = files
	}
	return s
}

// Restore rebuilds a Catalog from a snapshot, re-validating every entry.
func Restore(s Snapshot) (Catalog, error) {
	c := Catalog{
		seed:            s.Seed,
		nodesFiltered:   s.NodesAreFiltered,
		membersBalanced: s.MembersAreBalanced,
		lineage:         append([]string(nil), s.Lineage...),
		downloads:       make(map[string][]string, len(s.Downloads)),
	}
	for _, d := range s.Diagnostics {
		c.diagnostics = append(c.diagnostics, Diagnostic{Step: d.Step, Err: &restoredError{kind: d.Kind, msg: d.Message}})
	}
	for di, files := range s.Datasets {
		built := make([]File, 0, len(files))
		for fi, recs := range files {
			entries := make([]Entry, 0, len(recs))
			for _, rec := range recs {
				e, err := NewEntry(rec)
				if err != nil {
					return Catalog{}, fmt.Errorf("restore dataset %d file %d: %w", di, fi, err)
				}
				entries = append(entries, e)
			}
			if len(entries) == 0 {
				return Catalog{}, fmt.Errorf("restore dataset %d file %d: %w: no entries", di, fi, ErrInvalidArgument)
			}
			for _, e := range entries[1:] {
				if e.fileKey() != entries[0].fileKey() {
					return Catalog{}, fmt.Errorf("restore dataset %d file %d: %w", di, fi,
						&MalformedRecordError{Index: -1, Identity: e.ID(), Err: fmt.Errorf("disagrees with %s", entries[0].ID())})
				}
			}
			built = append(built, File{entries: entries})
		}
		ds, err := NewDataset(built)
		if err != nil {
			return Catalog{}, fmt.Errorf("restore dataset %d: %w", di, err)
		}
		c.datasets = append(c.datasets, ds)
	}
	for id, p := range s.Downloads {
		c.downloads[id] = append([]string(nil), p...)
	}
	return c, nil
}
