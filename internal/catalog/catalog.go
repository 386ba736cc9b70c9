// Package catalog implements the deduplicated Entry, File and Dataset
// hierarchy built from search records and the pure transforms that act on
// it: facet, period, variable-set and reachability filters, member
// balancing and splitting.
package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"cmip6cat/pkg/facet"
)

// Catalog is an immutable, ordered collection of Datasets with the session
// metadata that produced it. Every transform returns a new Catalog.
type Catalog struct {
	datasets        []Dataset
	seed            int64
	nodesFiltered   bool
	membersBalanced bool
	lineage         []string
	diagnostics     []Diagnostic
	downloads       map[string][]string
}

// Datasets returns the datasets in identity order.
func (c Catalog) Datasets() []Dataset {
	out := make([]Dataset, len(c.datasets))
	copy(out, c.datasets)
	return out
}

func (c Catalog) Len() int                 { return len(c.datasets) }
func (c Catalog) Seed() int64              { return c.seed }
func (c Catalog) NodesAreFiltered() bool   { return c.nodesFiltered }
func (c Catalog) MembersAreBalanced() bool { return c.membersBalanced }

// Lineage lists the transforms that produced the catalog, oldest first.
func (c Catalog) Lineage() []string { return append([]string(nil), c.lineage...) }

// Diagnostics lists the non-fatal problems accumulated so far.
func (c Catalog) Diagnostics() []Diagnostic { return append([]Diagnostic(nil), c.diagnostics...) }

// Downloads maps dataset identities to local paths, ordered like the
// dataset's files. It is empty until WithDownloads is called.
func (c Catalog) Downloads() map[string][]string {
	out := make(map[string][]string, len(c.downloads))
	for k, v := range c.downloads {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// WithSeed returns a copy carrying seed.
func (c Catalog) WithSeed(seed int64) Catalog {
	out := c.derive(fmt.Sprintf("seed[%d]", seed))
	out.seed = seed
	return out
}

// WithDownloads attaches a download report. Paths of datasets not in the
// catalog are ignored; existing paths for other datasets are kept.
func (c Catalog) WithDownloads(paths map[string][]string) Catalog {
	out := c.derive("")
	present := make(map[string]struct{}, len(c.datasets))
	for _, ds := range c.datasets {
		present[ds.ID()] = struct{}{}
	}
	for id, p := range paths {
		if _, ok := present[id]; ok {
			out.downloads[id] = append([]string(nil), p...)
		}
	}
	return out
}

// Records flattens the catalog back into one record per entry.
func (c Catalog) Records() []facet.Record {
	var out []facet.Record
	for _, ds := range c.datasets {
		for _, f := range ds.files {
			for _, e := range f.entries {
				out = append(out, e.Record())
			}
		}
	}
	return out
}

// ID returns the textual identity of the catalog.
func (c Catalog) ID() string {
	values := map[string]string{
		"seed":                 strconv.FormatInt(c.seed, 10),
		"nodes_are_filtered":   strconv.FormatBool(c.nodesFiltered),
		"members_are_balanced": strconv.FormatBool(c.membersBalanced),
		"datasets":             strconv.Itoa(len(c.datasets)),
		"lineage":              strings.Join(c.lineage, ">"),
	}
	names := []string{"seed", "nodes_are_filtered", "members_are_balanced", "datasets", "lineage"}
	return facet.FormatIdentity("Catalog", names, func(n string) string { return values[n] })
}

func (c Catalog) String() string { return c.ID() }

// Summary counts the catalog content and its diagnostics.
type Summary struct {
	Datasets    int
	Files       int
	Entries     int
	Downloaded  int
	Diagnostics map[string]int
}

// Summary reports counts of datasets, files, entries and diagnostics by kind.
func (c Catalog) Summary() Summary {
	s := Summary{Datasets: len(c.datasets), Diagnostics: make(map[string]int)}
	for _, ds := range c.datasets {
		s.Files += ds.Len()
		s.Entries += ds.Entries()
	}
	for _, p := range c.downloads {
		s.Downloaded += len(p)
	}
	for _, d := range c.diagnostics {
		s.Diagnostics[d.Kind()]++
	}
	return s
}

// MemberCount is the number of members of one model and experiment.
type MemberCount struct {
	SourceID     string
	ExperimentID string
	Members      int
}

// CountMembers reports distinct members per configuration, sorted by
// configuration.
func (c Catalog) CountMembers() []MemberCount {
	members := make(map[[2]string]map[string]struct{})
	for _, ds := range c.datasets {
		k := [2]string{ds.Value(facet.SourceID), ds.Value(facet.ExperimentID)}
		if members[k] == nil {
			members[k] = make(map[string]struct{})
		}
		members[k][ds.Value(facet.MemberID)] = struct{}{}
	}
	out := make([]MemberCount, 0, len(members))
	for k, m := range members {
		out = append(out, MemberCount{SourceID: k[0], ExperimentID: k[1], Members: len(m)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].ExperimentID < out[j].ExperimentID
	})
	return out
}

// derive copies the metadata of c, appending tag to the lineage when set.
// The dataset slice is copied; datasets themselves are immutable and shared.
func (c Catalog) derive(tag string) Catalog {
	out := Catalog{
		datasets:        append([]Dataset(nil), c.datasets...),
		seed:            c.seed,
		nodesFiltered:   c.nodesFiltered,
		membersBalanced: c.membersBalanced,
		lineage:         append([]string(nil), c.lineage...),
		diagnostics:     append([]Diagnostic(nil), c.diagnostics...),
		downloads:       make(map[string][]string, len(c.downloads)),
	}
	if tag != "" {
		out.lineage = append(out.lineage, tag)
	}
	for k, v := range c.downloads {
		out.downloads[k] = v
	}
	return out
}

// withDatasets finishes a transform: it installs the surviving datasets,
// restricts the download report to them and records an EmptyResultError
// when nothing survived a non-empty input.
func (c Catalog) withDatasets(step string, datasets []Dataset) Catalog {
	hadData := len(c.datasets) > 0
	c.datasets = datasets
	keep := make(map[string][]string, len(c.downloads))
	for _, ds := range datasets {
		if p, ok := c.downloads[ds.ID()]; ok {
			keep[ds.ID()] = p
		}
	}
	c.downloads = keep
	if hadData && len(datasets) == 0 {
		c.diagnostics = append(c.diagnostics, Diagnostic{Step: step, Err: &EmptyResultError{Step: step}})
	}
	return c
}
