// Package session runs the catalog pipeline end to end: collect records,
// build the catalog, apply the configured transforms, download each part
// and persist the resulting snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"cmip6cat/internal/catalog"
	"cmip6cat/internal/config"
	"cmip6cat/internal/download"
	"cmip6cat/internal/liveness"
	"cmip6cat/internal/observability"
	"cmip6cat/internal/persistence"
	"cmip6cat/internal/platform/logger"
	"cmip6cat/internal/search"
)

// Pipeline composes the collaborators of one run. Liveness, Orchestrator
// and Store are optional; a nil value skips the matching step.
type Pipeline struct {
	Source       search.Source
	Liveness     liveness.Provider
	Orchestrator *download.Orchestrator
	Store        persistence.Store
	Sampler      catalog.Sampler
	Logger       *logger.Logger
	Config       *config.Config
	Metrics      observability.MetricsRecorder
	Tracer       trace.Tracer

	closers []func() error
}

// Result is one catalog part and, when it was downloaded, its report.
type Result struct {
	Name    string
	Catalog catalog.Catalog
	Report  *download.Report
}

// Run executes the pipeline. Per-record and per-file problems are carried in
// catalog diagnostics and download reports. When ctx is cancelled during a
// download, the interrupted part is still saved and returned with the parts
// before it, together with ctx.Err().
func (p *Pipeline) Run(ctx context.Context) ([]Result, error) {
	if p.Source == nil {
		return nil, errors.New("session: no record source configured")
	}
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := p.Logger.With("pipeline", cfg.Pipeline.Name)

	cat, err := p.build(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	cat, err = p.transform(ctx, cfg, log, cat)
	if err != nil {
		return nil, err
	}

	parts := []catalog.Catalog{cat}
	if keys := cfg.Pipeline.SplitBy; len(keys) > 0 {
		if split := cat.SplitBy(keys...); len(split) > 0 {
			parts = split
		}
		log.Info("catalog split", "keys", strings.Join(keys, ","), "parts", len(parts))
	}

	results := make([]Result, 0, len(parts))
	for _, part := range parts {
		res := Result{Name: partName(cfg.Pipeline.Name, cfg.Pipeline.SplitBy, part), Catalog: part}
		var runErr error
		if p.Orchestrator != nil && !cfg.Pipeline.SkipDownload {
			var report download.Report
			runErr = p.stage(ctx, "download", func(ctx context.Context) error {
				var err error
				report, err = p.Orchestrator.Download(ctx, part)
				return err
			})
			res.Catalog = part.WithDownloads(report.Paths)
			res.Report = &report
			if err := report.Err(); err != nil {
				log.Warn("download incomplete", "part", res.Name, "failed", report.Stats.Failed, "abandoned", report.Stats.Abandoned)
			}
		}
		results = append(results, res)
		if err := p.save(ctx, res); err != nil {
			return results, errors.Join(runErr, err)
		}
		if runErr != nil {
			return results, runErr
		}
	}
	return results, nil
}

func (p *Pipeline) build(ctx context.Context, cfg *config.Config, log *logger.Logger) (catalog.Catalog, error) {
	var cat catalog.Catalog
	err := p.stage(ctx, "build", func(ctx context.Context) error {
		records, err := p.Source.Records(ctx)
		if err != nil {
			return fmt.Errorf("collect records: %w", err)
		}
		b := catalog.NewBuilder(
			catalog.WithOrdering(cfg.CatalogOrdering()),
			catalog.WithSeed(cfg.Seed),
			catalog.WithLogger(log),
		)
		var report catalog.BuildReport
		cat, report = b.Build(records)
		log.Info("catalog built",
			"records", report.Records,
			"skipped", report.Skipped,
			"duplicates", report.Duplicates,
			"superseded", report.Superseded,
			"datasets", report.Datasets,
			"files", report.Files,
			"entries", report.Entries,
		)
		return nil
	})
	return cat, err
}

func (p *Pipeline) transform(ctx context.Context, cfg *config.Config, log *logger.Logger, cat catalog.Catalog) (catalog.Catalog, error) {
	pc := cfg.Pipeline
	if len(pc.Facets) > 0 {
		cat = cat.FilterFacets(pc.Facets)
		log.Info("facet filter applied", "datasets", cat.Len())
	}
	windows, err := cfg.Windows()
	if err != nil {
		return catalog.Catalog{}, err
	}
	if len(windows.Rules) > 0 {
		cat = cat.FilterPeriods(windows)
		log.Info("period filter applied", "datasets", cat.Len())
	}
	if len(pc.Variables) > 0 {
		cat = cat.FilterVariableSet(pc.Variables)
		log.Info("variable set filter applied", "variables", strings.Join(pc.Variables, ","), "datasets", cat.Len())
	}
	if p.Liveness != nil && !cfg.Liveness.Disabled {
		err := p.stage(ctx, "liveness", func(ctx context.Context) error {
			snap, err := p.Liveness.Snapshot(ctx)
			if err != nil {
				return fmt.Errorf("node liveness: %w", err)
			}
			cat = cat.FilterReachable(snap)
			log.Info("reachability filter applied", "reachable_nodes", len(snap.Reachables()), "datasets", cat.Len())
			return nil
		})
		if err != nil {
			return catalog.Catalog{}, err
		}
	}
	if b := pc.Balance; b != nil {
		if !cat.NodesAreFiltered() {
			log.Warn("balancing members before filtering data nodes; members may later lose every mirror")
		}
		balanced, err := cat.BalanceWith(p.Sampler, b.Members, b.Tolerance, b.Variables)
		if err != nil {
			return catalog.Catalog{}, fmt.Errorf("balance: %w", err)
		}
		cat = balanced
		log.Info("members balanced", "members", b.Members, "tolerance", b.Tolerance, "datasets", cat.Len())
	}
	return cat, nil
}

// saveTimeout bounds a save that outlives a cancelled run.
const saveTimeout = 30 * time.Second

// save persists res even when ctx is already cancelled, so a partial
// download report is not lost.
func (p *Pipeline) save(ctx context.Context, res Result) error {
	if p.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	return p.stage(ctx, "save", func(ctx context.Context) error {
		return SaveCatalog(ctx, p.Store, res.Name, res.Catalog)
	})
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	tracer := p.Tracer
	if tracer == nil {
		tracer = otel.Tracer(observability.TracerName)
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = observability.NoopRecorder{}
	}
	ctx, span := tracer.Start(ctx, "pipeline."+name)
	start := time.Now()
	err := fn(ctx)
	metrics.Observe(ctx, "pipeline."+name, err == nil, time.Since(start))
	observability.EndSpan(span, err)
	return err
}

// Close releases the resources opened by Open.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

// partName names a split part after its key values, e.g.
// "catalog.historical". Unsplit catalogs keep the base name.
func partName(base string, keys []string, part catalog.Catalog) string {
	if base == "" {
		base = "catalog"
	}
	datasets := part.Datasets()
	if len(keys) == 0 || len(datasets) == 0 {
		return base
	}
	values := make([]string, len(keys))
	for i, k := range keys {
		v := datasets[0].Value(k)
		if v == "" {
			v = "none"
		}
		values[i] = strings.NewReplacer("/", "_", "\\", "_").Replace(v)
	}
	return base + "." + strings.Join(values, ".")
}
