package catalog

import (
	"sort"
	"strings"
)

// SplitBy partitions the catalog by the values of keys. Every dataset lands
// in exactly one part; parts are ordered by their key values and inherit
// seed, flags, diagnostics and the matching download paths. With no keys the
// result is a single copy of c.
func (c Catalog) SplitBy(keys ...string) []Catalog {
	if len(c.datasets) == 0 {
		return nil
	}
	groups := make(map[string][]Dataset)
	labels := make(map[string]string)
	for _, ds := range c.datasets {
		values := make([]string, len(keys))
		pairs := make([]string, len(keys))
		for i, k := range keys {
			values[i] = ds.Value(k)
			pairs[i] = k + "=" + values[i]
		}
		id := strings.Join(values, "\x00")
		groups[id] = append(groups[id], ds)
		labels[id] = strings.Join(pairs, ",")
	}
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Catalog, 0, len(ids))
	for _, id := range ids {
		part := c.derive("split[" + labels[id] + "]")
		out = append(out, part.withDatasets("split", groups[id]))
	}
	return out
}
