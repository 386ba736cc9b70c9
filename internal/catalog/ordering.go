package catalog

import (
	"strings"

	"cmip6cat/pkg/facet"
)

// Default priority lists used to rank equivalent entries.
var (
	DefaultTablePriority = []string{"Eday", "day", "Oday"}
	DefaultGridPriority  = []string{"gn", "gr", "gr1", "gr2", "gr3", "gr4", "gr5", "gr6", "gr7", "gr8", "gr9"}
)

// Ordering ranks the entries of a File. Entries compare by version (newest
// first), then node, table and grid priority, then URL. Values absent from a
// priority list rank after listed ones, in lexical order.
type Ordering struct {
	Nodes  []string
	Tables []string
	Grids  []string
}

// DefaultOrdering has no node preference and the standard table and grid lists.
func DefaultOrdering() Ordering {
	return Ordering{Tables: DefaultTablePriority, Grids: DefaultGridPriority}
}

// Compare returns a negative value when a is preferred over b.
func (o Ordering) Compare(a, b Entry) int {
	if c := b.version.Compare(a.version); c != 0 {
		return c
	}
	if c := comparePriority(o.Nodes, a.node, b.node); c != 0 {
		return c
	}
	if c := comparePriority(o.Tables, a.Value(facet.TableID), b.Value(facet.TableID)); c != 0 {
		return c
	}
	if c := comparePriority(o.Grids, a.Value(facet.GridLabel), b.Value(facet.GridLabel)); c != 0 {
		return c
	}
	if c := strings.Compare(a.url, b.url); c != 0 {
		return c
	}
	return strings.Compare(a.ID(), b.ID())
}

func comparePriority(list []string, a, b string) int {
	if a == b {
		return 0
	}
	ia, ib := indexOf(list, a), indexOf(list, b)
	switch {
	case ia >= 0 && ib >= 0:
		return ia - ib
	case ia >= 0:
		return -1
	case ib >= 0:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func indexOf(list []string, v string) int {
	for i, item := range list {
		if item == v {
			return i
		}
	}
	return -1
}
