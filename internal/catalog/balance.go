package catalog

import (
	"fmt"
	"sort"

	"cmip6cat/pkg/facet"
)

// Balance keeps between k-t and k+t members per model and experiment. See
// BalanceWith.
func (c Catalog) Balance(k, t int, variables []string) (Catalog, error) {
	return c.BalanceWith(ShuffleSampler{}, k, t, variables)
}

// BalanceWith groups datasets by (source_id, experiment_id) and keeps only
// members that have a dataset for every required variable. variables
// defaults to every variable in the catalog. A group with fewer than k-t
// complete members is dropped with an InsufficientMembersError diagnostic;
// a group with more than k+t is reduced to exactly k members by s; any
// other group is kept whole.
func (c Catalog) BalanceWith(s Sampler, k, t int, variables []string) (Catalog, error) {
	if k < 1 {
		return Catalog{}, fmt.Errorf("%w: member target %d must be at least 1", ErrInvalidArgument, k)
	}
	if t < 0 {
		return Catalog{}, fmt.Errorf("%w: tolerance %d must not be negative", ErrInvalidArgument, t)
	}
	if s == nil {
		s = ShuffleSampler{}
	}
	out := c.derive(fmt.Sprintf("balance[k=%d,t=%d]", k, t))
	out.membersBalanced = true

	required := variables
	if len(required) == 0 {
		required = c.variables()
	}
	wanted := toSet(required)

	type group struct {
		source, experiment string
		members            map[string]map[string]struct{}
	}
	groups := make(map[string]*group)
	var order []string
	for _, ds := range c.datasets {
		v := ds.Value(facet.Variable)
		if _, ok := wanted[v]; !ok {
			continue
		}
		name := ds.Value(facet.SourceID) + "/" + ds.Value(facet.ExperimentID)
		g, ok := groups[name]
		if !ok {
			g = &group{source: ds.Value(facet.SourceID), experiment: ds.Value(facet.ExperimentID), members: map[string]map[string]struct{}{}}
			groups[name] = g
			order = append(order, name)
		}
		m := ds.Value(facet.MemberID)
		if g.members[m] == nil {
			g.members[m] = make(map[string]struct{})
		}
		g.members[m][v] = struct{}{}
	}
	sort.Strings(order)

	selected := make(map[string]map[string]struct{}, len(groups))
	for _, name := range order {
		g := groups[name]
		var complete []string
		for m, vars := range g.members {
			if len(vars) == len(wanted) {
				complete = append(complete, m)
			}
		}
		sort.Strings(complete)
		n := len(complete)
		switch {
		case n < k-t:
			out.diagnostics = append(out.diagnostics, Diagnostic{
				Step: "balance",
				Err:  &InsufficientMembersError{SourceID: g.source, ExperimentID: g.experiment, Members: n, Minimum: k - t},
			})
			continue
		case n > k+t:
			complete = s.Sample(c.seed, name, complete, k)
		}
		selected[name] = toSet(complete)
	}

	var kept []Dataset
	for _, ds := range c.datasets {
		if _, ok := wanted[ds.Value(facet.Variable)]; !ok {
			continue
		}
		members := selected[ds.Value(facet.SourceID)+"/"+ds.Value(facet.ExperimentID)]
		if _, ok := members[ds.Value(facet.MemberID)]; ok {
			kept = append(kept, ds)
		}
	}
	return out.withDatasets("balance", kept), nil
}

func (c Catalog) variables() []string {
	set := make(map[string]struct{})
	for _, ds := range c.datasets {
		set[ds.Value(facet.Variable)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
