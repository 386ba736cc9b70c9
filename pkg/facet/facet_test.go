package facet

import (
	"encoding/json"
	"testing"
)

func TestRecordJSONPreservesOrderAndFlattensLists(t *testing.T) {
	raw := `{"variable":["tas"],"source_id":"M","size":1024,"replica":true,"title":null,"url":["http://x/a.nc|application/netcdf|HTTPServer"]}`
	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"variable", "source_id", "size", "replica", "title", "url"}
	keys := r.Keys()
	if len(keys) != len(want) {
		t.Fatalf("keys = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("key %d = %s, want %s", i, keys[i], want[i])
		}
	}
	if r.Value("variable") != "tas" || r.Value("size") != "1024" || r.Value("replica") != "true" || r.Value("title") != "" {
		t.Fatalf("unexpected values %s", r)
	}
	if SplitURL(r.Value("url")) != "http://x/a.nc" {
		t.Fatalf("split url: %s", SplitURL(r.Value("url")))
	}
	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Record
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal back: %v", err)
	}
	if !back.Equal(r) {
		t.Fatalf("round trip changed record: %s vs %s", back, r)
	}
}

func TestRecordUnmarshalRejectsNonObject(t *testing.T) {
	var r Record
	if err := json.Unmarshal([]byte(`["a"]`), &r); err == nil {
		t.Fatalf("expected error for array")
	}
	if err := json.Unmarshal([]byte(`{"a":{"b":1}}`), &r); err == nil {
		t.Fatalf("expected error for nested object")
	}
}

func TestRecordSetDoesNotMutate(t *testing.T) {
	a := NewRecord(SourceID, "M", Variable, "tas")
	b := a.Set(Variable, "pr").Set(GridLabel, "gn")
	if a.Value(Variable) != "tas" || a.Len() != 2 {
		t.Fatalf("original mutated: %s", a)
	}
	if b.Value(Variable) != "pr" || b.Keys()[2] != GridLabel {
		t.Fatalf("unexpected copy: %s", b)
	}
	missing := a.Missing()
	if len(missing) != len(Required)-2 || missing[0] != ExperimentID {
		t.Fatalf("missing = %v", missing)
	}
}

func TestFromMapOrdersRequiredFirst(t *testing.T) {
	r := FromMap(map[string]string{"zeta": "1", Variable: "tas", SourceID: "M", "alpha": "2"})
	keys := r.Keys()
	want := []string{SourceID, Variable, "alpha", "zeta"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v", keys)
		}
	}
}

func TestParseDates(t *testing.T) {
	cases := []struct {
		in        string
		end       bool
		want      string
		y, m, d   int
		precision Precision
	}{
		{"1850", false, "1850", 1850, 1, 1, PrecisionYear},
		{"1850", true, "1850", 1850, 12, 31, PrecisionYear},
		{"185002", true, "185002", 1850, 2, 28, PrecisionMonth},
		{"200002", true, "200002", 2000, 2, 29, PrecisionMonth},
		{"18500101", false, "18500101", 1850, 1, 1, PrecisionDay},
		{"2000-02-30", true, "20000230", 2000, 2, 30, PrecisionDay},
		{"185001010030", false, "18500101", 1850, 1, 1, PrecisionDay},
		{"1850-01-16T12:00:00", false, "18500116", 1850, 1, 16, PrecisionDay},
		{"2014-12-16T12:00:00Z", true, "20141216", 2014, 12, 16, PrecisionDay},
		{"2014-12-31T23:59:59.5Z", true, "20141231", 2014, 12, 31, PrecisionDay},
		{"1850-01-01T00:30", false, "18500101", 1850, 1, 1, PrecisionDay},
		{"1850-02", true, "185002", 1850, 2, 28, PrecisionMonth},
		{"18500231", true, "18500231", 1850, 2, 31, PrecisionDay},
	}
	for _, tc := range cases {
		parse := ParseStart
		if tc.end {
			parse = ParseEnd
		}
		got, err := parse(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got.Year() != tc.y || got.Month() != tc.m || got.Day() != tc.d || got.Precision() != tc.precision {
			t.Fatalf("parse %q = %d-%d-%d p%d", tc.in, got.Year(), got.Month(), got.Day(), got.Precision())
		}
		if got.String() != tc.want {
			t.Fatalf("string %q = %s, want %s", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "18a0", "18501", "185013", "18500132",
		"1850-01-01 12:00:00", "1850-01-01T25:00:00", "1850-01-01Tnoon", "1850-13-01T00:00:00"} {
		if _, err := ParseStart(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestIntervalIntersectionIsClosed(t *testing.T) {
	a, _ := ParseInterval("1850", "1899")
	b, _ := ParseInterval("18991231", "19001231")
	c, _ := ParseInterval("1900", "1950")
	if !a.Intersects(b) || !b.Intersects(a) {
		t.Fatalf("touching endpoints must intersect")
	}
	if a.Intersects(c) {
		t.Fatalf("disjoint intervals intersect")
	}
	if !a.Contains(a) || a.Contains(c) {
		t.Fatalf("contains wrong")
	}
	if _, err := ParseInterval("1900", "1850"); err == nil {
		t.Fatalf("expected reversed interval error")
	}
}

func TestCoverageMergesContiguous(t *testing.T) {
	mk := func(s, e string) Interval {
		iv, err := ParseInterval(s, e)
		if err != nil {
			t.Fatalf("interval: %v", err)
		}
		return iv
	}
	got := Coverage([]Interval{
		mk("19000101", "19491230"), // 360-day calendar month end
		mk("185001", "189912"),
		mk("1950", "1999"),
		mk("2010", "2014"),
		mk("1870", "1880"),
	})
	if len(got) != 2 {
		t.Fatalf("coverage = %v", got)
	}
	if got[0].String() != "185001-1999" || got[1].String() != "2010-2014" {
		t.Fatalf("coverage = %v", got)
	}
}

func TestDatesFromFilename(t *testing.T) {
	s, e, ok := DatesFromFilename("/x/tos_Oday_AWI-CM-1-1-MR_historical_r1i1p1f1_gn_18500101-18501231.nc")
	if !ok || s != "18500101" || e != "18501231" {
		t.Fatalf("got %s %s %v", s, e, ok)
	}
	if _, _, ok := DatesFromFilename("orog_fx_M_historical_r1i1p1f1_gn.nc"); ok {
		t.Fatalf("fixed field has no dates")
	}
	if Extension("a_b_1850-1900.nc4") != "nc4" || Extension("noext") != "" {
		t.Fatalf("extension")
	}
}

func TestRelease(t *testing.T) {
	a, err := ParseRelease("v20190101")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, err := ParseRelease("20200615")
	if err != nil {
		t.Fatalf("parse bare: %v", err)
	}
	if a.Compare(b) >= 0 || b.Compare(a) <= 0 || a.Compare(a) != 0 {
		t.Fatalf("compare wrong")
	}
	if b.String() != "v20200615" {
		t.Fatalf("string = %s", b)
	}
	for _, bad := range []string{"v1", "latest", "v2019010", "v20191301"} {
		if _, err := ParseRelease(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestFormatIdentity(t *testing.T) {
	r := NewRecord(SourceID, "M", ExperimentID, "historical", MemberID, "r1", Variable, "tas")
	got := FormatIdentity("Dataset", DatasetKeys, r.Value)
	if got != "Dataset:source_id=M,experiment_id=historical,member_id=r1,variable=tas" {
		t.Fatalf("identity = %s", got)
	}
}
