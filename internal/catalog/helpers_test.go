package catalog

import (
	"fmt"
	"testing"

	"cmip6cat/pkg/facet"
)

type recOpts struct {
	source, experiment, member, variable string
	table, grid, version                 string
	start, end, node                     string
}

func defaults() recOpts {
	return recOpts{
		source: "M", experiment: "historical", member: "r1i1p1f1", variable: "tas",
		table: "day", grid: "gn", version: "v20200101",
		start: "18500101", end: "18991231", node: "node-a.example.org",
	}
}

func rec(mod func(*recOpts)) facet.Record {
	o := defaults()
	if mod != nil {
		mod(&o)
	}
	url := fmt.Sprintf("https://%s/data/%s_%s_%s_%s_%s_%s_%s-%s.nc", o.node, o.variable, o.table, o.source, o.experiment, o.member, o.grid, o.start, o.end)
	return facet.NewRecord(
		facet.SourceID, o.source,
		facet.ExperimentID, o.experiment,
		facet.MemberID, o.member,
		facet.Variable, o.variable,
		facet.TableID, o.table,
		facet.GridLabel, o.grid,
		facet.Version, o.version,
		facet.StartDate, o.start,
		facet.EndDate, o.end,
		facet.DataNode, o.node,
		facet.URL, url+"|application/netcdf|HTTPServer",
		facet.Checksum, "d41d8cd98f00b204e9800998ecf8427e",
		facet.ChecksumType, "MD5",
	)
}

func build(t *testing.T, records ...facet.Record) Catalog {
	t.Helper()
	c, report := NewBuilder(WithSeed(42)).Build(records)
	if report.Skipped != 0 {
		t.Fatalf("unexpected skipped records: %v", report.Errors)
	}
	return c
}

func datasetIDs(c Catalog) []string {
	var ids []string
	for _, ds := range c.Datasets() {
		ids = append(ids, ds.ID())
	}
	return ids
}

// structure renders every dataset, file and entry identity in order.
func structure(c Catalog) []string {
	var out []string
	for _, ds := range c.Datasets() {
		out = append(out, ds.ID())
		for _, f := range ds.Files() {
			out = append(out, "  "+f.ID())
			for _, e := range f.Entries() {
				out = append(out, "    "+e.ID()+" "+e.URL())
			}
		}
	}
	return out
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func members(c Catalog) []string {
	seen := map[string]bool{}
	var out []string
	for _, ds := range c.Datasets() {
		m := ds.Value(facet.MemberID)
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
