package download

import (
	"path"
	"strings"

	"cmip6cat/internal/catalog"
	"cmip6cat/pkg/facet"
)

const unknown = "unknown"

// Layout maps an entry to its key in the destination store.
type Layout func(catalog.Entry) string

// DefaultLayout follows the CMIP6 data reference syntax:
//
//	<project>/<activity>/<institution>/<source>/<experiment>/<member>/<table>/<variable>/<grid>/<version>/
//	<variable>_<table>_<source>_<experiment>_<member>_<grid>_<start>-<end>.<ext>
func DefaultLayout(e catalog.Entry) string {
	project := segment(e.Value(facet.Project))
	if project == unknown {
		project = "CMIP6"
	}
	dir := path.Join(
		project,
		segment(e.Value(facet.ActivityID)),
		segment(e.Value(facet.InstitutionID)),
		segment(e.Value(facet.SourceID)),
		segment(e.Value(facet.ExperimentID)),
		segment(e.Value(facet.MemberID)),
		segment(e.Value(facet.TableID)),
		segment(e.Value(facet.Variable)),
		segment(e.Value(facet.GridLabel)),
		e.Version().String(),
	)
	ext := facet.Extension(e.Value(facet.Title))
	if ext == "" {
		ext = "nc"
	}
	name := strings.Join([]string{
		segment(e.Value(facet.Variable)),
		segment(e.Value(facet.TableID)),
		segment(e.Value(facet.SourceID)),
		segment(e.Value(facet.ExperimentID)),
		segment(e.Value(facet.MemberID)),
		segment(e.Value(facet.GridLabel)),
		e.Interval().String(),
	}, "_")
	return dir + "/" + name + "." + ext
}

// segment makes a facet value safe as a single path element.
func segment(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "." || v == ".." {
		return unknown
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, v)
}
