package catalog

import (
	"errors"
	"sort"

	"cmip6cat/internal/platform/logger"
	"cmip6cat/pkg/facet"
)

// Builder turns flat search records into a Catalog.
type Builder struct {
	ordering Ordering
	seed     int64
	log      *logger.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithOrdering replaces the default entry ranking.
func WithOrdering(o Ordering) Option { return func(b *Builder) { b.ordering = o } }

// WithSeed sets the seed carried by built catalogs.
func WithSeed(seed int64) Option { return func(b *Builder) { b.seed = seed } }

// WithLogger sets the logger used for skipped records.
func WithLogger(l *logger.Logger) Option { return func(b *Builder) { b.log = l } }

// NewBuilder returns a Builder using DefaultOrdering unless overridden.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{ordering: DefaultOrdering()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildReport summarizes a build.
type BuildReport struct {
	Records    int
	Skipped    int
	Duplicates int
	Superseded int
	Datasets   int
	Files      int
	Entries    int
	Errors     []error
}

// Build validates records, groups them into Files and Datasets and returns
// the resulting Catalog. Malformed records are skipped and reported; they
// never abort the build.
func (b *Builder) Build(records []facet.Record) (Catalog, BuildReport) {
	report := BuildReport{Records: len(records)}
	var diags []Diagnostic
	byFile := make(map[string][]Entry)
	for i, rec := range records {
		e, err := NewEntry(rec)
		if err != nil {
			var malformed *MalformedRecordError
			if errors.As(err, &malformed) {
				malformed.Index = i
				malformed.Identity = facet.FormatIdentity("Entry", facet.EntryKeys, rec.Value)
			}
			b.log.Warn("skipping malformed record", "index", i, "error", err)
			report.Skipped++
			report.Errors = append(report.Errors, err)
			diags = append(diags, Diagnostic{Step: "build", Err: err})
			continue
		}
		key := e.fileKey()
		byFile[key] = append(byFile[key], e)
	}

	byDataset := make(map[string][]File)
	for _, entries := range byFile {
		f, err := NewFile(entries, b.ordering)
		if err != nil {
			// grouping by key makes disagreement impossible; keep the guard
			report.Errors = append(report.Errors, err)
			diags = append(diags, Diagnostic{Step: "build", Err: err})
			continue
		}
		report.Duplicates += len(entries) - f.Len()
		k := datasetKeyOf(f.Value)
		byDataset[k] = append(byDataset[k], f)
	}

	keys := make([]string, 0, len(byDataset))
	for k := range byDataset {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	datasets := make([]Dataset, 0, len(keys))
	for _, k := range keys {
		files, dropped := supersede(byDataset[k], false)
		for _, f := range dropped {
			b.log.Debug("dropping superseded file", "file", f.ID())
		}
		report.Superseded += len(dropped)
		ds, err := NewDataset(files)
		if err != nil {
			report.Errors = append(report.Errors, err)
			diags = append(diags, Diagnostic{Step: "build", Err: err})
			continue
		}
		datasets = append(datasets, ds)
		report.Files += ds.Len()
		report.Entries += ds.Entries()
	}
	report.Datasets = len(datasets)

	c := Catalog{
		datasets:    datasets,
		seed:        b.seed,
		lineage:     []string{"build"},
		diagnostics: diags,
	}
	if len(datasets) == 0 && len(records) > 0 {
		c.diagnostics = append(c.diagnostics, Diagnostic{Step: "build", Err: &EmptyResultError{Step: "build"}})
	}
	if report.Skipped > 0 {
		b.log.Warn("records skipped during build", "skipped", report.Skipped, "records", report.Records)
	}
	return c, report
}
