// Package config loads cmip6cat configuration.
//
// Configuration is read from one YAML file, then CMIP6CAT_* environment
// variables override individual fields, then the result is validated.
// Fields missing from the file keep the values of Default.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cmip6cat/internal/blob"
	"cmip6cat/internal/catalog"
	"cmip6cat/internal/download"
	"cmip6cat/internal/liveness"
	"cmip6cat/internal/persistence"
	"cmip6cat/internal/platform/envutil"
	"cmip6cat/pkg/facet"
)

// Config is the complete configuration of a pipeline run.
type Config struct {
	// Seed drives member sampling. The same seed reproduces the same catalog.
	Seed int64 `yaml:"seed"`

	// MaxWorkers bounds concurrent file downloads.
	MaxWorkers int `yaml:"max_workers"`

	// Destination is the download root for the filesystem blob driver.
	// Ignored when Blob selects another driver.
	Destination string `yaml:"destination"`

	// AttemptTimeout bounds a single entry download.
	// Default: 10m
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	Ordering    OrderingConfig     `yaml:"ordering"`
	Log         LogConfig          `yaml:"log"`
	Blob        blob.Config        `yaml:"blob"`
	Persistence persistence.Config `yaml:"persistence"`
	Liveness    LivenessConfig     `yaml:"liveness"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Search      SearchConfig       `yaml:"search"`
	Pipeline    PipelineConfig     `yaml:"pipeline"`
}

// OrderingConfig overrides the entry preference lists. Empty lists keep the
// defaults.
type OrderingConfig struct {
	Nodes  []string `yaml:"nodes"`
	Tables []string `yaml:"tables"`
	Grids  []string `yaml:"grids"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Mode is "development" or "production".
	Mode string `yaml:"mode"`
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
}

// Liveness cache kinds.
const (
	CacheFile   = "file"
	CacheStore  = "store"
	CacheMemory = "memory"
)

// LivenessConfig configures node-status caching.
type LivenessConfig struct {
	// Cache is file, store or memory. "store" keeps statuses in the
	// persistence backend.
	Cache string `yaml:"cache"`
	// CachePath is the JSON file used by the file cache.
	CachePath string `yaml:"cache_path"`
	// TTL is the age after which a snapshot is refreshed.
	TTL time.Duration `yaml:"ttl"`
	// ProbeFile is read as the probe result when a refresh is due.
	ProbeFile string `yaml:"probe_file"`
	// Disabled skips the reachability filter entirely.
	Disabled bool `yaml:"disabled"`
}

// MetricsConfig configures operation metrics and tracing.
type MetricsConfig struct {
	// Addr serves Prometheus /metrics when set, e.g. ":9090".
	Addr string `yaml:"addr"`
	// Expvar publishes an expvar map under this name when set.
	Expvar string `yaml:"expvar"`
	// TraceFile receives pipeline spans from the otel stdout exporter when set.
	TraceFile string `yaml:"trace_file"`
}

// SearchConfig configures record collection.
type SearchConfig struct {
	// Records is a JSON or JSON-lines file of facet records.
	Records string `yaml:"records"`
	// Query lists facet values; multi-valued facets fan out into one search
	// per combination.
	Query map[string][]string `yaml:"query"`
	// Concurrency bounds parallel searches.
	Concurrency int `yaml:"concurrency"`
}

// WindowConfig is a closed date window.
type WindowConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// RuleConfig maps an experiment pattern to a named window.
type RuleConfig struct {
	Pattern string `yaml:"pattern"`
	Window  string `yaml:"window"`
}

// BalanceConfig enables member balancing.
type BalanceConfig struct {
	Members   int      `yaml:"members"`
	Tolerance int      `yaml:"tolerance"`
	Variables []string `yaml:"variables"`
}

// PipelineConfig lists the catalog transforms applied after building.
type PipelineConfig struct {
	// Name prefixes saved catalog snapshots.
	Name      string                  `yaml:"name"`
	Facets    map[string][]string     `yaml:"facets"`
	Windows   map[string]WindowConfig `yaml:"windows"`
	Rules     []RuleConfig            `yaml:"rules"`
	Variables []string                `yaml:"variables"`
	Balance   *BalanceConfig          `yaml:"balance"`
	SplitBy   []string                `yaml:"split_by"`

	// SkipDownload stops the pipeline before downloading.
	SkipDownload bool `yaml:"skip_download"`
}

// Default returns the configuration used as the base before loading a file.
func Default() *Config {
	return &Config{
		MaxWorkers:     4,
		Destination:    "./data",
		AttemptTimeout: download.DefaultAttemptTimeout,
		Ordering: OrderingConfig{
			Tables: append([]string(nil), catalog.DefaultTablePriority...),
			Grids:  append([]string(nil), catalog.DefaultGridPriority...),
		},
		Log: LogConfig{Mode: "production", Level: "info"},
		Blob: blob.Config{
			Driver: blob.DriverFilesystem,
		},
		Persistence: persistence.Config{
			Driver: persistence.DriverSQLite,
			Path:   "cmip6cat.db",
		},
		Liveness: LivenessConfig{
			Cache:     CacheFile,
			CachePath: "esgf-nodes-status.json",
			TTL:       liveness.DefaultTTL,
		},
		Search:   SearchConfig{Concurrency: 4},
		Pipeline: PipelineConfig{Name: "catalog"},
	}
}

// Load reads path on top of Default, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CMIP6CAT_* variables.
func (c *Config) ApplyEnv() {
	c.Seed = envutil.Int64("CMIP6CAT_SEED", c.Seed)
	c.MaxWorkers = envutil.Int("CMIP6CAT_MAX_WORKERS", c.MaxWorkers)
	c.Destination = envutil.String("CMIP6CAT_DESTINATION", c.Destination)
	c.AttemptTimeout = envutil.Duration("CMIP6CAT_ATTEMPT_TIMEOUT", c.AttemptTimeout)
	c.Log.Mode = envutil.String("CMIP6CAT_LOG_MODE", c.Log.Mode)
	c.Log.Level = envutil.String("CMIP6CAT_LOG_LEVEL", c.Log.Level)
	c.Blob = blob.ConfigFromEnv(c.Blob)
	c.Persistence.Driver = persistence.Driver(envutil.String("CMIP6CAT_PERSISTENCE_DRIVER", string(c.Persistence.Driver)))
	c.Persistence.Path = envutil.String("CMIP6CAT_PERSISTENCE_PATH", c.Persistence.Path)
	c.Persistence.DSN = envutil.String("CMIP6CAT_PERSISTENCE_DSN", c.Persistence.DSN)
	c.Liveness.Cache = envutil.String("CMIP6CAT_LIVENESS_CACHE", c.Liveness.Cache)
	c.Liveness.CachePath = envutil.String("CMIP6CAT_LIVENESS_CACHE_PATH", c.Liveness.CachePath)
	c.Liveness.TTL = envutil.Duration("CMIP6CAT_LIVENESS_TTL", c.Liveness.TTL)
	c.Liveness.ProbeFile = envutil.String("CMIP6CAT_LIVENESS_PROBE_FILE", c.Liveness.ProbeFile)
	c.Metrics.Addr = envutil.String("CMIP6CAT_METRICS_ADDR", c.Metrics.Addr)
	c.Search.Records = envutil.String("CMIP6CAT_RECORDS", c.Search.Records)
	c.Pipeline.SplitBy = envutil.List("CMIP6CAT_SPLIT_BY", c.Pipeline.SplitBy)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("max_workers must be at least 1, got %d", c.MaxWorkers))
	}
	if c.AttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("attempt_timeout must be positive, got %s", c.AttemptTimeout))
	}
	switch c.Blob.Driver {
	case "", blob.DriverFilesystem:
		if strings.TrimSpace(c.Destination) == "" && strings.TrimSpace(c.Blob.Root) == "" {
			errs = append(errs, errors.New("destination is required for the fs blob driver"))
		}
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required for the s3 blob driver"))
		}
	case blob.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	switch c.Persistence.Driver {
	case "", persistence.DriverSQLite, persistence.DriverMemory:
	case persistence.DriverPostgres:
		if c.Persistence.DSN == "" {
			errs = append(errs, errors.New("persistence.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown persistence driver %q", c.Persistence.Driver))
	}
	switch c.Liveness.Cache {
	case CacheFile:
		if c.Liveness.CachePath == "" {
			errs = append(errs, errors.New("liveness.cache_path is required for the file cache"))
		}
	case CacheStore, CacheMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown liveness cache %q", c.Liveness.Cache))
	}
	if c.Liveness.TTL < 0 {
		errs = append(errs, fmt.Errorf("liveness.ttl must not be negative, got %s", c.Liveness.TTL))
	}
	if c.Search.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("search.concurrency must be at least 1, got %d", c.Search.Concurrency))
	}
	if strings.TrimSpace(c.Pipeline.Name) == "" || strings.ContainsAny(c.Pipeline.Name, "/\\") {
		errs = append(errs, fmt.Errorf("pipeline.name %q must be non-empty without path separators", c.Pipeline.Name))
	}
	if b := c.Pipeline.Balance; b != nil {
		if b.Members < 1 {
			errs = append(errs, fmt.Errorf("pipeline.balance.members must be at least 1, got %d", b.Members))
		}
		if b.Tolerance < 0 {
			errs = append(errs, fmt.Errorf("pipeline.balance.tolerance must not be negative, got %d", b.Tolerance))
		}
	}
	if _, err := c.Windows(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CatalogOrdering returns the entry ordering, falling back to the default
// lists for empty fields.
func (c *Config) CatalogOrdering() catalog.Ordering {
	ord := catalog.DefaultOrdering()
	ord.Nodes = c.Ordering.Nodes
	if len(c.Ordering.Tables) > 0 {
		ord.Tables = c.Ordering.Tables
	}
	if len(c.Ordering.Grids) > 0 {
		ord.Grids = c.Ordering.Grids
	}
	return ord
}

// Windows parses the temporal windows and rules. Rules keep file order.
func (c *Config) Windows() (catalog.TemporalWindows, error) {
	tw := catalog.TemporalWindows{Windows: make(map[string]facet.Interval, len(c.Pipeline.Windows))}
	names := make([]string, 0, len(c.Pipeline.Windows))
	for name := range c.Pipeline.Windows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w := c.Pipeline.Windows[name]
		iv, err := facet.ParseInterval(w.Start, w.End)
		if err != nil {
			return catalog.TemporalWindows{}, fmt.Errorf("pipeline.windows.%s: %w", name, err)
		}
		tw.Windows[name] = iv
	}
	for _, r := range c.Pipeline.Rules {
		tw.Rules = append(tw.Rules, catalog.WindowRule{Pattern: r.Pattern, Window: r.Window})
	}
	if err := tw.Validate(); err != nil {
		return catalog.TemporalWindows{}, fmt.Errorf("pipeline.rules: %w", err)
	}
	return tw, nil
}

// BlobConfig returns the blob configuration with Destination as the
// filesystem root when no root is set.
func (c *Config) BlobConfig() blob.Config {
	bc := c.Blob
	if bc.Root == "" {
		bc.Root = c.Destination
	}
	return bc
}
