package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"cmip6cat/pkg/facet"
)

// Entry is one downloadable copy of a file hosted on one data node.
type Entry struct {
	record       facet.Record
	interval     facet.Interval
	version      facet.Release
	url          string
	checksum     string
	checksumType string
	node         string
	size         int64
}

// NewEntry validates and normalizes a raw record. Missing dates are taken
// from the title when it carries a start-end stamp. Dates, version and URL
// are rewritten to their canonical form so that rebuilding from
// Entry.Record yields the same entry.
func NewEntry(rec facet.Record) (Entry, error) {
	if !rec.Has(facet.StartDate) || !rec.Has(facet.EndDate) {
		if start, end, ok := facet.DatesFromFilename(rec.Value(facet.Title)); ok {
			if !rec.Has(facet.StartDate) {
				rec = rec.Set(facet.StartDate, start)
			}
			if !rec.Has(facet.EndDate) {
				rec = rec.Set(facet.EndDate, end)
			}
		}
	}
	if missing := missingFacets(rec); len(missing) > 0 {
		return Entry{}, &MalformedRecordError{Index: -1, Missing: missing}
	}
	iv, err := facet.ParseInterval(rec.Value(facet.StartDate), rec.Value(facet.EndDate))
	if err != nil {
		return Entry{}, &MalformedRecordError{Index: -1, Err: err}
	}
	v, err := facet.ParseRelease(rec.Value(facet.Version))
	if err != nil {
		return Entry{}, &MalformedRecordError{Index: -1, Err: err}
	}
	e := Entry{
		interval:     iv,
		version:      v,
		url:          facet.SplitURL(rec.Value(facet.URL)),
		checksum:     strings.ToLower(strings.TrimSpace(rec.Value(facet.Checksum))),
		checksumType: strings.ToLower(strings.TrimSpace(rec.Value(facet.ChecksumType))),
		node:         strings.TrimSpace(rec.Value(facet.DataNode)),
	}
	if e.url == "" {
		return Entry{}, &MalformedRecordError{Index: -1, Missing: []string{facet.URL}}
	}
	if raw := rec.Value(facet.Size); raw != "" {
		size, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || size < 0 {
			return Entry{}, &MalformedRecordError{Index: -1, Err: fmt.Errorf("invalid size %q", raw)}
		}
		e.size = size
	}
	for _, name := range facet.Required {
		rec = rec.Set(name, strings.TrimSpace(rec.Value(name)))
	}
	rec = rec.Set(facet.StartDate, iv.Start.String()).
		Set(facet.EndDate, iv.End.String()).
		Set(facet.Version, v.String()).
		Set(facet.URL, e.url).
		Set(facet.Checksum, e.checksum).
		Set(facet.ChecksumType, e.checksumType)
	e.record = rec
	return e, nil
}

// missingFacets lists absent required facets. Checksum facets only need to
// be present: an empty checksum is accepted at download time with a warning.
func missingFacets(rec facet.Record) []string {
	var missing []string
	for _, name := range rec.Missing() {
		if name == facet.Checksum || name == facet.ChecksumType {
			if _, ok := rec.Get(name); ok {
				continue
			}
		}
		missing = append(missing, name)
	}
	return missing
}

func (e Entry) Record() facet.Record     { return e.record.Clone() }
func (e Entry) Value(name string) string { return e.record.Value(name) }
func (e Entry) Interval() facet.Interval { return e.interval }
func (e Entry) Version() facet.Release   { return e.version }
func (e Entry) URL() string              { return e.url }
func (e Entry) Checksum() string         { return e.checksum }
func (e Entry) ChecksumType() string     { return e.checksumType }
func (e Entry) DataNode() string         { return e.node }

// Size is the declared size in bytes, zero when unknown.
func (e Entry) Size() int64 { return e.size }

// ID returns the textual identity of the entry.
func (e Entry) ID() string {
	return facet.FormatIdentity("Entry", facet.EntryKeys, e.record.Value)
}

func (e Entry) String() string { return e.ID() }

// fileKey groups entries holding the same content. Dates are compared on
// their resolved days so that 1850 and 18500101 share a File.
func (e Entry) fileKey() string {
	return strings.Join([]string{
		e.Value(facet.SourceID), e.Value(facet.ExperimentID), e.Value(facet.MemberID), e.Value(facet.Variable),
		dayKey(e.interval.Start), dayKey(e.interval.End),
	}, "\x00")
}

// entryKey names the publication an entry belongs to within its dataset.
func (e Entry) entryKey() string {
	return strings.Join([]string{e.Value(facet.TableID), e.version.String(), e.Value(facet.GridLabel)}, "\x00")
}

func (e Entry) datasetKey() string {
	return datasetKeyOf(e.record.Value)
}

func datasetKeyOf(value func(string) string) string {
	parts := make([]string, len(facet.DatasetKeys))
	for i, name := range facet.DatasetKeys {
		parts[i] = value(name)
	}
	return strings.Join(parts, "\x00")
}

func dayKey(d facet.Date) string {
	return fmt.Sprintf("%04d%02d%02d", d.Year(), d.Month(), d.Day())
}
