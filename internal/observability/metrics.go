// Package observability records operation timings and outcomes for the
// catalog pipeline and the download orchestrator, and sets up span tracing.
package observability

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder observes the outcome and duration of one operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// NoopRecorder discards observations.
type NoopRecorder struct{}

func (NoopRecorder) Observe(context.Context, string, bool, time.Duration) {}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

var expvarSeq uint64

// ExpvarRecorder publishes duration totals and result counters via expvar.
type ExpvarRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
}

// ExpvarSnapshot is a read-only view of the recorded metrics.
type ExpvarSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarRecorder publishes a recorder under name. An empty name gets a
// unique generated one; expvar names must be unique per process.
func NewExpvarRecorder(name string) *ExpvarRecorder {
	if name == "" {
		name = fmt.Sprintf("cmip6cat_metrics_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	rec := &ExpvarRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name returns the expvar export name.
func (r *ExpvarRecorder) Name() string { return r.name }

// Snapshot returns a copy of the aggregated metrics.
func (r *ExpvarRecorder) Snapshot() ExpvarSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	results := make(map[string]map[string]int64, len(r.results))
	for op, counts := range r.results {
		cpy := make(map[string]int64, len(counts))
		for st, n := range counts {
			cpy[st] = n
		}
		results[op] = cpy
	}
	return ExpvarSnapshot{DurationsMS: durations, Results: results, RecordedAt: time.Now().UTC()}
}

func (r *ExpvarRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[operation] += float64(duration) / float64(time.Millisecond)
	if _, ok := r.results[operation]; !ok {
		r.results[operation] = make(map[string]int64, 2)
	}
	r.results[operation][status(success)]++
}

// PrometheusRecorder exports an operation duration histogram and a result
// counter, both labelled by operation.
type PrometheusRecorder struct {
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
}

// NewPrometheusRecorder registers its collectors with reg
// (prometheus.DefaultRegisterer when nil).
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rec := &PrometheusRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cmip6cat",
			Name:      "operation_duration_seconds",
			Help:      "Duration of catalog and download operations.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmip6cat",
			Name:      "operations_total",
			Help:      "Operations by outcome.",
		}, []string{"operation", "status"}),
	}
	for _, c := range []prometheus.Collector{rec.durations, rec.results} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return rec, nil
}

func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status(success)).Inc()
}

// Multi fans observations out to several recorders.
type Multi []MetricsRecorder

func (m Multi) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range m {
		if r != nil {
			r.Observe(ctx, operation, success, duration)
		}
	}
}
