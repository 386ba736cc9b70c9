// Package download fetches the files of a catalog into a blob store with a
// bounded worker pool. Each file is tried entry by entry in preference order
// and verified against its published checksum.
package download

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cmip6cat/internal/blob"
	"cmip6cat/internal/catalog"
	"cmip6cat/internal/observability"
	"cmip6cat/internal/platform/logger"
)

// DefaultAttemptTimeout bounds a single fetch attempt.
const DefaultAttemptTimeout = 10 * time.Minute

// Config configures an Orchestrator. Store takes precedence over
// Destination; without a Store a filesystem store rooted at Destination is
// opened.
type Config struct {
	MaxWorkers     int
	AttemptTimeout time.Duration
	Destination    string
	Store          blob.Store
}

// Orchestrator downloads catalogs. It is safe for sequential reuse; each
// Download call runs its own pool.
type Orchestrator struct {
	workers int
	timeout time.Duration
	store   blob.Store
	fetcher Fetcher
	reach   catalog.Reachability
	layout  Layout
	metrics observability.MetricsRecorder
	log     *logger.Logger
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f Fetcher) Option { return func(o *Orchestrator) { o.fetcher = f } }

// WithReachability checks each entry's node before fetching it.
func WithReachability(r catalog.Reachability) Option { return func(o *Orchestrator) { o.reach = r } }

// WithLayout replaces DefaultLayout.
func WithLayout(l Layout) Option { return func(o *Orchestrator) { o.layout = l } }

func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(l *logger.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// New validates cfg and probes that the destination is writable.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	if cfg.MaxWorkers < 1 {
		return nil, &FatalConfigurationError{Field: "max_workers", Err: fmt.Errorf("must be at least 1, got %d", cfg.MaxWorkers)}
	}
	o := &Orchestrator{
		workers: cfg.MaxWorkers,
		timeout: cfg.AttemptTimeout,
		store:   cfg.Store,
		fetcher: HTTPFetcher{UserAgent: "cmip6cat"},
		layout:  DefaultLayout,
		metrics: observability.NoopRecorder{},
	}
	if o.timeout <= 0 {
		o.timeout = DefaultAttemptTimeout
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		if strings.TrimSpace(cfg.Destination) == "" {
			return nil, &FatalConfigurationError{Field: "destination", Err: errors.New("no destination directory or store configured")}
		}
		store, err := blob.NewFilesystem(cfg.Destination)
		if err != nil {
			return nil, &FatalConfigurationError{Field: "destination", Err: err}
		}
		o.store = store
	}
	if err := o.probe(); err != nil {
		return nil, &FatalConfigurationError{Field: "destination", Err: err}
	}
	return o, nil
}

func (o *Orchestrator) probe() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	key := ".cmip6cat-probe-" + uuid.NewString()
	if _, err := o.store.Put(ctx, key, strings.NewReader("probe"), blob.PutOptions{}); err != nil {
		return fmt.Errorf("destination not writable: %w", err)
	}
	if _, err := o.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("destination probe cleanup: %w", err)
	}
	return nil
}

// Store returns the destination store.
func (o *Orchestrator) Store() blob.Store { return o.store }

type task struct {
	pos       position
	datasetID string
	file      catalog.File
}

// Download fetches every file of cat. Per-file failures are recorded in the
// report, not returned. When ctx is cancelled, in-flight attempts finish,
// queued files are reported as abandoned and ctx.Err() is returned with the
// partial report.
func (o *Orchestrator) Download(ctx context.Context, cat catalog.Catalog) (Report, error) {
	runID := uuid.NewString()
	log := o.log.With("run_id", runID)
	started := time.Now().UTC()
	if !cat.NodesAreFiltered() {
		log.Warn("downloading a catalog whose data nodes were not filtered; unreachable mirrors will be tried")
	}
	if !cat.MembersAreBalanced() {
		log.Warn("downloading a catalog whose ensemble members were not balanced")
	}

	datasets := cat.Datasets()
	ids := make([]string, len(datasets))
	counts := make([]int, len(datasets))
	var tasks []task
	for i, ds := range datasets {
		ids[i] = ds.ID()
		counts[i] = ds.Len()
		for j, f := range ds.Files() {
			tasks = append(tasks, task{pos: position{i, j}, datasetID: ids[i], file: f})
		}
	}
	acc := newAccumulator(ids, counts)
	log.Info("download started", "datasets", len(datasets), "files", len(tasks), "workers", o.workers)

	queue := make(chan task, len(tasks))
	for _, t := range tasks {
		queue <- t
	}
	close(queue)

	var wg sync.WaitGroup
	workers := o.workers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range queue {
				if ctx.Err() != nil {
					acc.abandon(t.pos, t.file.ID())
					continue
				}
				o.process(ctx, log, acc, t)
			}
		}()
	}
	wg.Wait()

	report := acc.report(runID, started)
	log.Info("download finished",
		"fetched", report.Stats.Fetched,
		"skipped", report.Stats.Skipped,
		"failed", report.Stats.Failed,
		"abandoned", report.Stats.Abandoned,
		"bytes", report.Stats.Bytes,
	)
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (o *Orchestrator) process(ctx context.Context, log *logger.Logger, acc *accumulator, t task) {
	begin := time.Now()
	fileID := t.file.ID()
	log = log.With("file", fileID)

	if loc, ok := o.existing(ctx, log, t.file); ok {
		acc.done(t.pos, loc, false, 0)
		o.metrics.Observe(ctx, "download.file", true, time.Since(begin))
		log.Debug("target already present, skipped", "location", loc)
		return
	}

	var causes []error
	for _, e := range t.file.Entries() {
		if ctx.Err() != nil {
			acc.abandon(t.pos, fileID)
			return
		}
		loc, n, err := o.fetchEntry(ctx, log, e)
		if err == nil {
			acc.done(t.pos, loc, true, n)
			o.metrics.Observe(ctx, "download.file", true, time.Since(begin))
			log.Debug("file downloaded", "location", loc, "bytes", n, "node", e.DataNode())
			return
		}
		causes = append(causes, err)
		log.Debug("entry failed, trying next", "entry", e.ID(), "error", err)
	}
	failure := &DownloadFailureError{File: fileID, Causes: causes}
	acc.fail(t.pos, FileFailure{DatasetID: t.datasetID, FileID: fileID, Err: failure})
	o.metrics.Observe(ctx, "download.file", false, time.Since(begin))
	log.Warn("file download failed", "attempts", len(causes), "error", failure)
}

// existing reports the location of an entry target that is already stored
// and verifies. Targets that fail verification are removed.
func (o *Orchestrator) existing(ctx context.Context, log *logger.Logger, f catalog.File) (string, bool) {
	seen := make(map[string]bool)
	for _, e := range f.Entries() {
		key := o.layout(e)
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, err := o.store.Head(ctx, key); err != nil {
			if !errors.Is(err, blob.ErrNotFound) {
				log.Debug("target lookup failed", "key", key, "error", err)
			}
			continue
		}
		if e.Checksum() == "" {
			log.Warn("existing target accepted without checksum", "key", key)
			return blob.Locate(o.store, key), true
		}
		h, err := NewHash(e.ChecksumType())
		if err != nil {
			continue
		}
		actual, err := o.hashStored(ctx, key, h)
		if err != nil {
			log.Debug("hash existing target", "key", key, "error", err)
			continue
		}
		if actual == e.Checksum() {
			return blob.Locate(o.store, key), true
		}
		log.Info("existing target fails verification, replacing", "key", key)
		if _, err := o.store.Delete(ctx, key); err != nil {
			log.Warn("remove stale target", "key", key, "error", err)
		}
	}
	return "", false
}

func (o *Orchestrator) hashStored(ctx context.Context, key string, h hash.Hash) (string, error) {
	_, rc, err := o.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()
	if _, err := io.Copy(h, rc); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// fetchEntry downloads one entry, retrying once on checksum mismatch.
func (o *Orchestrator) fetchEntry(ctx context.Context, log *logger.Logger, e catalog.Entry) (string, int64, error) {
	if o.reach != nil && !o.reach.Reachable(e.DataNode()) {
		return "", 0, &NodeUnreachableError{Node: e.DataNode(), Entry: e.ID()}
	}
	var h hash.Hash
	if e.Checksum() == "" {
		log.Warn("entry has no checksum, download will not be verified", "entry", e.ID())
	} else {
		var err error
		if h, err = NewHash(e.ChecksumType()); err != nil {
			return "", 0, fmt.Errorf("entry %s: %w", e.ID(), err)
		}
	}
	key := o.layout(e)
	var err error
	for try := 0; try < 2; try++ {
		if try > 0 && ctx.Err() != nil {
			break
		}
		var loc string
		var n int64
		loc, n, err = o.attempt(ctx, e, key, h)
		if err == nil {
			return loc, n, nil
		}
		var mismatch *ChecksumMismatchError
		if !errors.As(err, &mismatch) {
			break
		}
		log.Debug("checksum mismatch", "entry", e.ID(), "try", try+1)
	}
	return "", 0, err
}

type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && err != io.EOF {
		c.err = err
	}
	return n, err
}

// attempt streams one fetch into the store while hashing it. The attempt
// context keeps the timeout but not the caller's cancellation so in-flight
// transfers finish.
func (o *Orchestrator) attempt(ctx context.Context, e catalog.Entry, key string, h hash.Hash) (loc string, n int64, err error) {
	begin := time.Now()
	defer func() { o.metrics.Observe(ctx, "download.attempt", err == nil, time.Since(begin)) }()

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()

	body, err := o.fetcher.Fetch(actx, e.URL())
	if err != nil {
		return "", 0, &NetworkError{Entry: e.ID(), URL: e.URL(), Err: err}
	}
	defer func() { _ = body.Close() }()

	cr := &countingReader{r: body}
	var src io.Reader = cr
	if h != nil {
		h.Reset()
		src = io.TeeReader(cr, h)
	}
	info, err := o.store.Put(actx, key, src, blob.PutOptions{})
	if err != nil {
		if cr.err != nil || actx.Err() != nil {
			return "", 0, &NetworkError{Entry: e.ID(), URL: e.URL(), Err: errors.Join(cr.err, actx.Err())}
		}
		return "", 0, fmt.Errorf("store %s: %w", key, err)
	}
	if h != nil {
		actual := hex.EncodeToString(h.Sum(nil))
		if actual != e.Checksum() {
			if _, derr := o.store.Delete(actx, key); derr != nil {
				o.log.Warn("remove corrupt download", "key", key, "error", derr)
			}
			return "", 0, &ChecksumMismatchError{Entry: e.ID(), Algorithm: normalizeAlgorithm(e.ChecksumType()), Expected: e.Checksum(), Actual: actual}
		}
	}
	loc = info.Location
	if loc == "" {
		loc = blob.Locate(o.store, key)
	}
	return loc, cr.n, nil
}
