package session

import (
	"context"
	"fmt"
	"os"
	"time"

	"cmip6cat/internal/blob"
	"cmip6cat/internal/config"
	"cmip6cat/internal/download"
	"cmip6cat/internal/liveness"
	"cmip6cat/internal/observability"
	"cmip6cat/internal/persistence"
	"cmip6cat/internal/platform/logger"
	"cmip6cat/internal/search"
	"cmip6cat/pkg/facet"
)

const traceFlushTimeout = 5 * time.Second

// Open wires a Pipeline from cfg. Extra recorders receive every operation
// metric alongside the configured expvar recorder. The caller must Close the
// returned pipeline.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger, extra ...observability.MetricsRecorder) (*Pipeline, error) {
	p := &Pipeline{Config: cfg, Logger: log}
	metrics := observability.Multi(extra)
	if cfg.Metrics.Expvar != "" {
		metrics = append(metrics, observability.NewExpvarRecorder(cfg.Metrics.Expvar))
	}
	p.Metrics = metrics

	if cfg.Metrics.TraceFile != "" {
		f, err := os.OpenFile(cfg.Metrics.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		p.closers = append(p.closers, f.Close)
		tp, err := observability.NewTracerProvider(ctx, f, "", log)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		// Closers run in reverse, so spans flush before the file closes.
		p.closers = append(p.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), traceFlushTimeout)
			defer cancel()
			return tp.Shutdown(ctx)
		})
		p.Tracer = tp.Tracer(observability.TracerName)
	}

	store, err := persistence.Open(ctx, cfg.Persistence)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("open persistence: %w", err)
	}
	p.Store = store
	p.closers = append(p.closers, store.Close)

	if !cfg.Liveness.Disabled {
		p.Liveness = OpenLiveness(cfg, store, log)
	}

	if !cfg.Pipeline.SkipDownload {
		dest, err := blob.Open(ctx, cfg.BlobConfig())
		if err != nil {
			_ = p.Close()
			return nil, &download.FatalConfigurationError{Field: "blob", Err: err}
		}
		orch, err := download.New(download.Config{
			MaxWorkers:     cfg.MaxWorkers,
			AttemptTimeout: cfg.AttemptTimeout,
			Store:          dest,
		}, download.WithLogger(log), download.WithMetrics(metrics))
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.Orchestrator = orch
	}

	p.Source = recordSource(cfg, log, metrics)
	return p, nil
}

// OpenLiveness returns the cached liveness provider selected by cfg.
// store backs the "store" cache kind.
func OpenLiveness(cfg *config.Config, store persistence.Store, log *logger.Logger) *liveness.Cached {
	var cache liveness.Cache
	switch cfg.Liveness.Cache {
	case config.CacheStore:
		cache = liveness.StoreCache{Backend: store}
	case config.CacheMemory:
		cache = &liveness.MemoryCache{}
	default:
		cache = liveness.FileCache{Path: cfg.Liveness.CachePath}
	}
	opts := []liveness.CachedOption{liveness.WithTTL(cfg.Liveness.TTL), liveness.WithLogger(log)}
	if cfg.Liveness.ProbeFile != "" {
		opts = append(opts, liveness.WithProbe(liveness.FileProbe{Path: cfg.Liveness.ProbeFile}))
	}
	return liveness.NewCached(cache, opts...)
}

// recordSource reads the configured records file. With a query, the file is
// treated as a search index and the expanded queries run against it.
func recordSource(cfg *config.Config, log *logger.Logger, metrics observability.MetricsRecorder) search.Source {
	file := search.FileSource{Path: cfg.Search.Records}
	if len(cfg.Search.Query) == 0 {
		return file
	}
	return search.SourceFunc(func(ctx context.Context) ([]facet.Record, error) {
		records, err := file.Records(ctx)
		if err != nil {
			return nil, err
		}
		return search.QuerySource{
			Collector: search.Collector{
				Searcher: search.RecordSearcher{Records: records},
				Limit:    cfg.Search.Concurrency,
				Logger:   log,
				Metrics:  metrics,
			},
			Query: cfg.Search.Query,
		}.Records(ctx)
	})
}
