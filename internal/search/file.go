package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"cmip6cat/pkg/facet"
)

// FileSource reads records saved from a search service: either a JSON array
// of objects or one object per line.
type FileSource struct {
	Path string
}

func (s FileSource) Records(ctx context.Context) ([]facet.Record, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	defer f.Close()
	recs, err := Decode(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("records %s: %w", s.Path, err)
	}
	return recs, nil
}

// Decode reads a JSON array of records or a stream of record objects.
func Decode(ctx context.Context, r io.Reader) ([]facet.Record, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(br)
	if first == '[' {
		var recs []facet.Record
		if err := dec.Decode(&recs); err != nil {
			return nil, fmt.Errorf("decode record array: %w", err)
		}
		return recs, nil
	}
	var recs []facet.Record
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rec facet.Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", line, err)
		}
		recs = append(recs, rec)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if bytes.IndexByte([]byte(" \t\r\n"), b) >= 0 {
			continue
		}
		return b, br.UnreadByte()
	}
}

// RecordSearcher answers queries from a fixed record set, matching each
// constrained facet against the record value.
type RecordSearcher struct {
	Records []facet.Record
}

func (s RecordSearcher) Search(ctx context.Context, facets map[string][]string) ([]facet.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []facet.Record
	for _, rec := range s.Records {
		if matches(rec, facets) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func matches(rec facet.Record, facets map[string][]string) bool {
	for name, values := range facets {
		if len(values) == 0 {
			continue
		}
		got := rec.Value(name)
		found := false
		for _, v := range values {
			if v == got {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
