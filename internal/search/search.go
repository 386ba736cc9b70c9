// Package search defines how raw facet records reach the catalog builder.
// The query transport itself plugs in through Searcher.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"cmip6cat/internal/observability"
	"cmip6cat/internal/platform/logger"
	"cmip6cat/pkg/facet"
)

// Searcher runs one facet query against a search service. Each facet maps to
// the accepted values; an absent facet is unconstrained.
type Searcher interface {
	Search(ctx context.Context, facets map[string][]string) ([]facet.Record, error)
}

// Source produces the records a pipeline builds its catalog from.
type Source interface {
	Records(ctx context.Context) ([]facet.Record, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]facet.Record, error)

func (f SourceFunc) Records(ctx context.Context) ([]facet.Record, error) { return f(ctx) }

// Expand turns a query with multi-valued facets into the cartesian product
// of single-valued queries. table_id stays multi-valued because search
// services accept several tables per query and the builder ranks them.
// Facets are iterated in name order so the result is deterministic.
func Expand(query map[string][]string) []map[string][]string {
	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)

	out := []map[string][]string{{}}
	for _, name := range names {
		values := query[name]
		if len(values) <= 1 || name == facet.TableID {
			for _, q := range out {
				q[name] = append([]string(nil), values...)
			}
			continue
		}
		next := make([]map[string][]string, 0, len(out)*len(values))
		for _, q := range out {
			for _, v := range values {
				c := make(map[string][]string, len(q)+1)
				for k, vs := range q {
					c[k] = vs
				}
				c[name] = []string{v}
				next = append(next, c)
			}
		}
		out = next
	}
	return out
}

// Describe renders a query as name=v1|v2 pairs in name order.
func Describe(query map[string][]string) string {
	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + strings.Join(query[name], "|")
	}
	return strings.Join(parts, ",")
}

// Collector runs queries concurrently.
type Collector struct {
	Searcher Searcher
	// Limit bounds concurrent searches. Values below 1 mean 1.
	Limit   int
	Logger  *logger.Logger
	Metrics observability.MetricsRecorder
}

// Collect runs every query and concatenates the results in query order.
// Failed queries are logged and skipped; the call fails only when every
// query failed or ctx was cancelled.
func (c Collector) Collect(ctx context.Context, queries []map[string][]string) ([]facet.Record, error) {
	if c.Searcher == nil {
		return nil, errors.New("search: no searcher configured")
	}
	if len(queries) == 0 {
		return nil, nil
	}
	limit := c.Limit
	if limit < 1 {
		limit = 1
	}
	metrics := c.Metrics
	if metrics == nil {
		metrics = observability.NoopRecorder{}
	}

	results := make([][]facet.Record, len(queries))
	failures := make([]error, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, q := range queries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			recs, err := c.Searcher.Search(gctx, q)
			metrics.Observe(gctx, "search.query", err == nil, time.Since(start))
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failures[i] = fmt.Errorf("query %s: %w", Describe(q), err)
				c.Logger.Warn("search query failed", "query", Describe(q), "error", err)
				return nil
			}
			c.Logger.Debug("search query done", "query", Describe(q), "records", len(recs))
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		out    []facet.Record
		failed []error
	)
	for i := range queries {
		if failures[i] != nil {
			failed = append(failed, failures[i])
			continue
		}
		out = append(out, results[i]...)
	}
	if len(failed) == len(queries) {
		return nil, fmt.Errorf("all %d search queries failed: %w", len(queries), errors.Join(failed...))
	}
	return out, nil
}

// QuerySource expands Query and collects the results.
type QuerySource struct {
	Collector Collector
	Query     map[string][]string
}

func (s QuerySource) Records(ctx context.Context) ([]facet.Record, error) {
	return s.Collector.Collect(ctx, Expand(s.Query))
}
