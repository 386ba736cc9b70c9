// Command cmip6cat builds, filters and downloads CMIP6 catalogs and manages
// the node-status cache and saved catalogs.
//
//	cmip6cat run [--config file] [--records file] [--metrics-addr :9090]
//	cmip6cat nodes import <status.json> [--config file]
//	cmip6cat nodes show [--config file]
//	cmip6cat catalog list [--config file]
//	cmip6cat catalog show <name> [--config file]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"cmip6cat/internal/config"
	"cmip6cat/internal/observability"
	"cmip6cat/internal/persistence"
	"cmip6cat/internal/platform/logger"
	"cmip6cat/internal/session"
)

var exitFunc = os.Exit

const usage = `usage:
  cmip6cat run [--config file] [--records file] [--metrics-addr addr] [--skip-download]
  cmip6cat nodes import <status.json> [--config file]
  cmip6cat nodes show [--config file]
  cmip6cat catalog list [--config file]
  cmip6cat catalog show <name> [--config file]
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

// errFailures marks a run that finished with per-file failures.
var errFailures = errors.New("some files could not be downloaded")

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = io.WriteString(stderr, usage)
		return 2
	}
	var err error
	switch cmd, rest := args[0], args[1:]; cmd {
	case "run":
		err = runCmd(ctx, rest, stdout, stderr)
	case "nodes":
		err = subcommand(ctx, "nodes", rest, stdout, stderr, map[string]command{
			"import": nodesImport,
			"show":   nodesShow,
		})
	case "catalog":
		err = subcommand(ctx, "catalog", rest, stdout, stderr, map[string]command{
			"list": catalogList,
			"show": catalogShow,
		})
	case "help", "-h", "--help":
		_, _ = io.WriteString(stdout, usage)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n%s", cmd, usage)
		return 2
	}
	var usageErr *usageError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pflag.ErrHelp):
		return 0
	case errors.As(err, &usageErr):
		_, _ = fmt.Fprintf(stderr, "%v\n%s", err, usage)
		return 2
	default:
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

type command func(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) error

func subcommand(ctx context.Context, group string, args []string, stdout, stderr io.Writer, cmds map[string]command) error {
	if len(args) == 0 {
		return &usageError{msg: group + ": missing subcommand"}
	}
	fn, ok := cmds[args[0]]
	if !ok {
		return &usageError{msg: fmt.Sprintf("%s: unknown subcommand %q", group, args[0])}
	}
	fs := pflag.NewFlagSet("cmip6cat "+group+" "+args[0], pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("CMIP6CAT_CONFIG"), "path to the YAML configuration file")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	return fn(ctx, cfg, fs.Args(), stdout, stderr)
}

func runCmd(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("cmip6cat run", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("CMIP6CAT_CONFIG"), "path to the YAML configuration file")
	records := fs.String("records", "", "JSON or JSON-lines file of search records (overrides search.records)")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")
	skipDownload := fs.Bool("skip-download", false, "build and save catalogs without downloading")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return &usageError{msg: fmt.Sprintf("run: unexpected arguments %v", fs.Args())}
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *records != "" {
		cfg.Search.Records = *records
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *skipDownload {
		cfg.Pipeline.SkipDownload = true
	}
	if cfg.Search.Records == "" {
		return &usageError{msg: "run: --records or search.records is required"}
	}

	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	var extra []observability.MetricsRecorder
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		rec, err := observability.NewPrometheusRecorder(reg)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		extra = append(extra, rec)
		stopMetrics := serveMetrics(cfg.Metrics.Addr, reg, log)
		defer stopMetrics()
	}

	p, err := session.Open(ctx, cfg, log, extra...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			log.Warn("closing pipeline", "error", cerr)
		}
	}()

	results, runErr := p.Run(ctx)
	printResults(stdout, results)
	if runErr != nil {
		return runErr
	}
	for _, res := range results {
		if res.Report != nil && res.Report.Err() != nil {
			return errFailures
		}
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *logger.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printResults(w io.Writer, results []session.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CATALOG\tDATASETS\tFILES\tENTRIES\tFETCHED\tSKIPPED\tFAILED\tABANDONED")
	for _, res := range results {
		s := res.Catalog.Summary()
		var stats [4]int
		if r := res.Report; r != nil {
			stats = [4]int{r.Stats.Fetched, r.Stats.Skipped, r.Stats.Failed, r.Stats.Abandoned}
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			res.Name, s.Datasets, s.Files, s.Entries, stats[0], stats[1], stats[2], stats[3])
	}
	_ = tw.Flush()
	for _, res := range results {
		if res.Report == nil {
			continue
		}
		for _, f := range res.Report.Failures {
			_, _ = fmt.Fprintf(w, "failed %s: %v\n", f.FileID, f.Err)
		}
	}
}

func nodesImport(ctx context.Context, cfg *config.Config, args []string, stdout, _ io.Writer) error {
	if len(args) != 1 {
		return &usageError{msg: "nodes import: expected one status file"}
	}
	cfg.Liveness.ProbeFile = args[0]
	store, err := persistence.Open(ctx, cfg.Persistence)
	if err != nil {
		return err
	}
	defer store.Close()
	snap, err := session.OpenLiveness(cfg, store, nil).Refresh(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "imported %d nodes, %d reachable\n", snap.Len(), len(snap.Reachables()))
	return err
}

func nodesShow(ctx context.Context, cfg *config.Config, _ []string, stdout, _ io.Writer) error {
	store, err := persistence.Open(ctx, cfg.Persistence)
	if err != nil {
		return err
	}
	defer store.Close()
	// showing must not trigger a probe
	cfg.Liveness.ProbeFile = ""
	snap, err := session.OpenLiveness(cfg, store, nil).Snapshot(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NODE\tREACHABLE\tCHECKED_AT")
	for _, st := range snap.Statuses() {
		_, _ = fmt.Fprintf(tw, "%s\t%t\t%s\n", st.Node, st.Reachable, st.CheckedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func catalogList(ctx context.Context, cfg *config.Config, _ []string, stdout, _ io.Writer) error {
	store, err := persistence.Open(ctx, cfg.Persistence)
	if err != nil {
		return err
	}
	defer store.Close()
	names, err := store.ListCatalogs(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := fmt.Fprintln(stdout, name); err != nil {
			return err
		}
	}
	return nil
}

func catalogShow(ctx context.Context, cfg *config.Config, args []string, stdout, _ io.Writer) error {
	if len(args) != 1 {
		return &usageError{msg: "catalog show: expected one catalog name"}
	}
	store, err := persistence.Open(ctx, cfg.Persistence)
	if err != nil {
		return err
	}
	defer store.Close()
	cat, err := session.LoadCatalog(ctx, store, args[0])
	if err != nil {
		return err
	}
	s := cat.Summary()
	_, _ = fmt.Fprintln(stdout, cat.ID())
	_, _ = fmt.Fprintf(stdout, "datasets=%d files=%d entries=%d downloaded=%d\n", s.Datasets, s.Files, s.Entries, s.Downloaded)
	kinds := make([]string, 0, len(s.Diagnostics))
	for kind := range s.Diagnostics {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		_, _ = fmt.Fprintf(stdout, "diagnostic %s=%d\n", kind, s.Diagnostics[kind])
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SOURCE\tEXPERIMENT\tMEMBERS")
	for _, mc := range cat.CountMembers() {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\n", mc.SourceID, mc.ExperimentID, mc.Members)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	downloads := cat.Downloads()
	for _, ds := range cat.Datasets() {
		for _, path := range downloads[ds.ID()] {
			_, _ = fmt.Fprintf(stdout, "%s %s\n", ds.ID(), path)
		}
	}
	return nil
}
