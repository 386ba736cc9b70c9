package catalog

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"cmip6cat/pkg/facet"
)

// FilterFacets keeps what matches allowed. Dataset identity facets select
// whole datasets, start_date and end_date select files, and any other facet
// selects entries within files. Names with an empty value list are not
// constrained. Emptied files and datasets are dropped.
func (c Catalog) FilterFacets(allowed map[string][]string) Catalog {
	out := c.derive("filter_facets[" + describeFacets(allowed) + "]")
	var (
		datasetLevel = map[string]map[string]struct{}{}
		fileLevel    = map[string][]string{}
		entryLevel   = map[string]map[string]struct{}{}
	)
	for name, values := range allowed {
		if len(values) == 0 {
			continue
		}
		switch {
		case facet.IsDatasetLevel(name):
			datasetLevel[name] = toSet(values)
		case facet.IsFileLevel(name):
			fileLevel[name] = values
		default:
			entryLevel[name] = toSet(values)
		}
	}
	var kept []Dataset
	for _, ds := range c.datasets {
		if !matchesAll(datasetLevel, ds.Value) {
			continue
		}
		nds, ok := ds.withFiles(out.nodesFiltered, func(f File) (File, bool) {
			if !fileMatches(fileLevel, f) {
				return File{}, false
			}
			if len(entryLevel) == 0 {
				return f, true
			}
			return f.withEntries(func(e Entry) bool { return matchesAll(entryLevel, e.Value) })
		})
		if ok {
			kept = append(kept, nds)
		}
	}
	return out.withDatasets("filter_facets", kept)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func matchesAll(constraints map[string]map[string]struct{}, value func(string) string) bool {
	for name, set := range constraints {
		if _, ok := set[value(name)]; !ok {
			return false
		}
	}
	return true
}

// fileMatches compares dates on their resolved day, so 1850 matches a file
// starting on 18500101.
func fileMatches(constraints map[string][]string, f File) bool {
	iv := f.Interval()
	for name, values := range constraints {
		got, parse := iv.Start, facet.ParseStart
		if name == facet.EndDate {
			got, parse = iv.End, facet.ParseEnd
		}
		matched := false
		for _, v := range values {
			if d, err := parse(v); err == nil && d.Compare(got) == 0 {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func describeFacets(allowed map[string][]string) string {
	names := make([]string, 0, len(allowed))
	for name := range allowed {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+strings.Join(allowed[name], "|"))
	}
	return strings.Join(parts, ",")
}

// WindowRule maps experiments matching Pattern (path.Match syntax) to a
// named window.
type WindowRule struct {
	Pattern string
	Window  string
}

// TemporalWindows selects a closed window per dataset by its experiment_id.
// Rules are tried in order and the first match wins.
type TemporalWindows struct {
	Windows map[string]facet.Interval
	Rules   []WindowRule
}

// Validate checks rule patterns and window references.
func (w TemporalWindows) Validate() error {
	for _, r := range w.Rules {
		if _, err := path.Match(r.Pattern, ""); err != nil {
			return fmt.Errorf("%w: window pattern %q: %v", ErrInvalidArgument, r.Pattern, err)
		}
		if _, ok := w.Windows[r.Window]; !ok {
			return fmt.Errorf("%w: rule %q references unknown window %q", ErrInvalidArgument, r.Pattern, r.Window)
		}
	}
	return nil
}

// Lookup returns the window for experiment and its name.
func (w TemporalWindows) Lookup(experiment string) (facet.Interval, string, bool) {
	for _, r := range w.Rules {
		if ok, _ := path.Match(r.Pattern, experiment); !ok {
			continue
		}
		iv, ok := w.Windows[r.Window]
		return iv, r.Window, ok
	}
	return facet.Interval{}, "", false
}

// FilterPeriods keeps files whose closed interval intersects the window of
// their experiment. Files are never split. Experiments matched by no rule
// are kept unchanged.
func (c Catalog) FilterPeriods(windows TemporalWindows) Catalog {
	out := c.derive("filter_periods")
	var kept []Dataset
	for _, ds := range c.datasets {
		window, _, ok := windows.Lookup(ds.Value(facet.ExperimentID))
		if !ok {
			kept = append(kept, ds)
			continue
		}
		nds, ok := ds.withFiles(out.nodesFiltered, func(f File) (File, bool) {
			return f, f.Interval().Intersects(window)
		})
		if ok {
			kept = append(kept, nds)
		}
	}
	return out.withDatasets("filter_periods", kept)
}

// FilterVariableSet keeps configurations (model, experiment, member) that
// have a dataset for every listed variable, restricted to those variables.
func (c Catalog) FilterVariableSet(variables []string) Catalog {
	out := c.derive("filter_variables[" + strings.Join(variables, ",") + "]")
	if len(variables) == 0 {
		return out
	}
	wanted := toSet(variables)
	have := make(map[[3]string]map[string]struct{})
	for _, ds := range c.datasets {
		v := ds.Value(facet.Variable)
		if _, ok := wanted[v]; !ok {
			continue
		}
		k := memberKey(ds)
		if have[k] == nil {
			have[k] = make(map[string]struct{})
		}
		have[k][v] = struct{}{}
	}
	var kept []Dataset
	for _, ds := range c.datasets {
		if _, ok := wanted[ds.Value(facet.Variable)]; !ok {
			continue
		}
		if len(have[memberKey(ds)]) == len(wanted) {
			kept = append(kept, ds)
		}
	}
	return out.withDatasets("filter_variables", kept)
}

func memberKey(ds Dataset) [3]string {
	return [3]string{ds.Value(facet.SourceID), ds.Value(facet.ExperimentID), ds.Value(facet.MemberID)}
}

// Reachability answers whether a data node can currently serve files.
type Reachability interface {
	Reachable(node string) bool
}

// ReachableSet is a Reachability backed by a fixed map. Missing nodes are
// unreachable.
type ReachableSet map[string]bool

func (s ReachableSet) Reachable(node string) bool { return s[node] }

// FilterReachable keeps entries on reachable nodes in their existing
// preference order, so availability outranks version. Files without a
// reachable entry and datasets without files are dropped. Reachability is
// consulted once, at call time.
func (c Catalog) FilterReachable(r Reachability) Catalog {
	out := c.derive("filter_reachable")
	out.nodesFiltered = true
	cache := make(map[string]bool)
	reachable := func(e Entry) bool {
		ok, seen := cache[e.node]
		if !seen {
			ok = r.Reachable(e.node)
			cache[e.node] = ok
		}
		return ok
	}
	var kept []Dataset
	for _, ds := range c.datasets {
		nds, ok := ds.withFiles(out.nodesFiltered, func(f File) (File, bool) { return f.withEntries(reachable) })
		if ok {
			kept = append(kept, nds)
		}
	}
	return out.withDatasets("filter_reachable", kept)
}
