package download

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Stats counts file outcomes of one run.
type Stats struct {
	Fetched   int   `json:"fetched"`
	Skipped   int   `json:"skipped"`
	Failed    int   `json:"failed"`
	Abandoned int   `json:"abandoned"`
	Bytes     int64 `json:"bytes"`
}

// FileFailure records a file whose entries were all exhausted.
type FileFailure struct {
	DatasetID string `json:"dataset_id"`
	FileID    string `json:"file_id"`
	Err       error  `json:"-"`
}

// Report is the outcome of one Download call.
type Report struct {
	RunID      string              `json:"run_id"`
	Paths      map[string][]string `json:"paths"`
	Failures   []FileFailure       `json:"-"`
	Abandoned  []string            `json:"abandoned,omitempty"`
	Stats      Stats               `json:"stats"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// Err joins every failure cause and marks abandoned files; nil when the run
// completed cleanly.
func (r Report) Err() error {
	errs := make([]error, 0, len(r.Failures)+1)
	for _, f := range r.Failures {
		errs = append(errs, f.Err)
	}
	if len(r.Abandoned) > 0 {
		errs = append(errs, fmt.Errorf("%d file(s): %w", len(r.Abandoned), ErrAbandoned))
	}
	return errors.Join(errs...)
}

type position struct{ dataset, file int }

func (p position) less(o position) bool {
	if p.dataset != o.dataset {
		return p.dataset < o.dataset
	}
	return p.file < o.file
}

// accumulator collects worker results under a mutex. Locations are stored
// by position so final ordering follows file order, not completion order.
type accumulator struct {
	mu        sync.Mutex
	datasets  []string
	locations [][]string
	failures  map[position]FileFailure
	abandoned map[position]string
	stats     Stats
}

func newAccumulator(datasets []string, files []int) *accumulator {
	acc := &accumulator{
		datasets:  datasets,
		locations: make([][]string, len(datasets)),
		failures:  make(map[position]FileFailure),
		abandoned: make(map[position]string),
	}
	for i, n := range files {
		acc.locations[i] = make([]string, n)
	}
	return acc
}

func (a *accumulator) done(p position, location string, fetched bool, bytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.locations[p.dataset][p.file] = location
	if fetched {
		a.stats.Fetched++
		a.stats.Bytes += bytes
	} else {
		a.stats.Skipped++
	}
}

func (a *accumulator) fail(p position, f FileFailure) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[p] = f
	a.stats.Failed++
}

func (a *accumulator) abandon(p position, fileID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.abandoned[p] = fileID
	a.stats.Abandoned++
}

func (a *accumulator) report(runID string, started time.Time) Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := Report{
		RunID:      runID,
		Paths:      make(map[string][]string),
		Stats:      a.stats,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	for i, id := range a.datasets {
		var paths []string
		for _, loc := range a.locations[i] {
			if loc != "" {
				paths = append(paths, loc)
			}
		}
		if len(paths) > 0 {
			r.Paths[id] = paths
		}
	}
	for _, p := range sortedPositions(a.failures) {
		r.Failures = append(r.Failures, a.failures[p])
	}
	for _, p := range sortedPositions(a.abandoned) {
		r.Abandoned = append(r.Abandoned, a.abandoned[p])
	}
	return r
}

func sortedPositions[V any](m map[position]V) []position {
	out := make([]position, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}
