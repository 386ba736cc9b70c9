package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cmip6cat/pkg/facet"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func recordsFile(t *testing.T, dir string) string {
	t.Helper()
	var lines []string
	for i, member := range []string{"r1i1p1f1", "r2i1p1f1"} {
		rec := facet.NewRecord(
			facet.SourceID, "M",
			facet.ExperimentID, "historical",
			facet.MemberID, member,
			facet.Variable, "tas",
			facet.TableID, "day",
			facet.GridLabel, "gn",
			facet.Version, "v20200101",
			facet.StartDate, "18500101",
			facet.EndDate, "18991231",
			facet.DataNode, fmt.Sprintf("node%d.example.org", i+1),
			facet.URL, fmt.Sprintf("https://node%d.example.org/%s/tas.nc", i+1, member),
			facet.Checksum, "0a",
			facet.ChecksumType, "SHA256",
		)
		b, err := json.Marshal(rec)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		lines = append(lines, string(b))
	}
	return writeFile(t, dir, "records.jsonl", strings.Join(lines, "\n"))
}

func configFile(t *testing.T, dir string) string {
	t.Helper()
	return writeFile(t, dir, "cmip6cat.yaml", fmt.Sprintf(`
log:
  level: error
persistence:
  driver: sqlite
  path: %s
liveness:
  cache: store
pipeline:
  name: tas
  skip_download: true
`, filepath.Join(dir, "state.db")))
}

func invoke(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := cli(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestNodesImportRunAndShowCatalog(t *testing.T) {
	dir := t.TempDir()
	cfg := configFile(t, dir)
	status := writeFile(t, dir, "status.json", `[
  {"node": "node1.example.org", "reachable": true, "checked_at": "2030-01-01T00:00:00Z"},
  {"node": "node2.example.org", "reachable": false, "checked_at": "2030-01-01T00:00:00Z"}
]`)

	code, out, errOut := invoke("nodes", "import", status, "--config", cfg)
	if code != 0 || !strings.Contains(out, "imported 2 nodes, 1 reachable") {
		t.Fatalf("nodes import: %d %q %q", code, out, errOut)
	}
	code, out, errOut = invoke("nodes", "show", "--config", cfg)
	if code != 0 || !strings.Contains(out, "node1.example.org") || !strings.Contains(out, "false") {
		t.Fatalf("nodes show: %d %q %q", code, out, errOut)
	}

	code, out, errOut = invoke("run", "--config", cfg, "--records", recordsFile(t, dir))
	if code != 0 || !strings.Contains(out, "tas") {
		t.Fatalf("run: %d %q %q", code, out, errOut)
	}

	code, out, errOut = invoke("catalog", "list", "--config", cfg)
	if code != 0 || strings.TrimSpace(out) != "tas" {
		t.Fatalf("catalog list: %d %q %q", code, out, errOut)
	}
	code, out, errOut = invoke("catalog", "show", "tas", "--config", cfg)
	if code != 0 {
		t.Fatalf("catalog show: %d %q", code, errOut)
	}
	if !strings.Contains(out, "nodes_are_filtered=true") || !strings.Contains(out, "datasets=1 files=1 entries=1") {
		t.Fatalf("unexpected catalog output %q", out)
	}
	if !strings.Contains(out, "M") || !strings.Contains(out, "historical") {
		t.Fatalf("member counts missing: %q", out)
	}
}

func TestUsageErrors(t *testing.T) {
	cases := [][]string{
		nil,
		{"frobnicate"},
		{"nodes"},
		{"nodes", "purge"},
		{"catalog", "show"},
		{"run", "extra-arg"},
	}
	for _, args := range cases {
		code, _, errOut := invoke(args...)
		if code != 2 {
			t.Fatalf("%v: expected exit 2, got %d (%s)", args, code, errOut)
		}
	}
	if code, out, _ := invoke("help"); code != 0 || !strings.Contains(out, "usage:") {
		t.Fatalf("help: %d %q", code, out)
	}
}

func TestRunRequiresRecords(t *testing.T) {
	dir := t.TempDir()
	code, _, errOut := invoke("run", "--config", configFile(t, dir))
	if code != 2 || !strings.Contains(errOut, "--records") {
		t.Fatalf("expected records usage error, got %d %q", code, errOut)
	}
}

func TestCommandErrorsExitOne(t *testing.T) {
	dir := t.TempDir()
	cfg := configFile(t, dir)
	if code, _, errOut := invoke("catalog", "show", "missing", "--config", cfg); code != 1 || !strings.Contains(errOut, "not found") {
		t.Fatalf("expected not found, got %d %q", code, errOut)
	}
	if code, _, errOut := invoke("nodes", "show", "--config", filepath.Join(dir, "absent.yaml")); code != 1 {
		t.Fatalf("expected config error, got %d %q", code, errOut)
	}
}
