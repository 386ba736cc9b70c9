package catalog

import (
	"errors"
	"fmt"
	"testing"

	"cmip6cat/pkg/facet"
)

func ensemble(t *testing.T, source, experiment string, n int, variables ...string) []facet.Record {
	t.Helper()
	if len(variables) == 0 {
		variables = []string{"tas"}
	}
	var out []facet.Record
	for i := 1; i <= n; i++ {
		for _, v := range variables {
			i, v := i, v
			out = append(out, rec(func(o *recOpts) {
				o.source, o.experiment, o.variable = source, experiment, v
				o.member = fmt.Sprintf("r%di1p1f1", i)
			}))
		}
	}
	return out
}

func TestBalanceSamplesExactlyK(t *testing.T) {
	records := append(ensemble(t, "M", "historical", 7), ensemble(t, "N", "historical", 1)...)
	c := build(t, records...)
	out, err := c.Balance(4, 2, nil)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	got := members(out)
	want := []string{"r1i1p1f1", "r2i1p1f1", "r4i1p1f1", "r6i1p1f1"}
	if !sameStrings(got, want) {
		t.Fatalf("members = %v, want %v", got, want)
	}
	for _, ds := range out.Datasets() {
		if ds.Value(facet.SourceID) == "N" {
			t.Fatalf("single-member configuration should be dropped")
		}
	}
	var insufficient *InsufficientMembersError
	diags := out.Diagnostics()
	if len(diags) != 1 || !errors.As(diags[0].Err, &insufficient) || insufficient.SourceID != "N" || insufficient.Minimum != 2 {
		t.Fatalf("diagnostics = %v", diags)
	}
	if !out.MembersAreBalanced() || c.MembersAreBalanced() {
		t.Fatalf("balanced flag wrong")
	}

	again, _ := c.Balance(4, 2, nil)
	if !sameStrings(members(again), got) {
		t.Fatalf("same seed should give same members")
	}
	other, _ := c.WithSeed(7).Balance(4, 2, nil)
	if !sameStrings(members(other), []string{"r1i1p1f1", "r2i1p1f1", "r3i1p1f1", "r5i1p1f1"}) {
		t.Fatalf("seed 7 members = %v", members(other))
	}
}

func TestBalanceBound(t *testing.T) {
	var records []facet.Record
	for n := 1; n <= 9; n++ {
		records = append(records, ensemble(t, fmt.Sprintf("S%d", n), "historical", n)...)
	}
	c := build(t, records...)
	for _, tc := range []struct{ k, tol int }{{1, 0}, {3, 1}, {4, 2}, {5, 0}, {8, 3}} {
		out, err := c.Balance(tc.k, tc.tol, nil)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		for _, mc := range out.CountMembers() {
			d := mc.Members - tc.k
			if d < -tc.tol || d > tc.tol {
				t.Fatalf("k=%d t=%d: %s has %d members", tc.k, tc.tol, mc.SourceID, mc.Members)
			}
		}
		for _, mc := range c.CountMembers() {
			if mc.Members >= tc.k-tc.tol {
				found := false
				for _, o := range out.CountMembers() {
					if o.SourceID == mc.SourceID {
						found = true
					}
				}
				if !found {
					t.Fatalf("k=%d t=%d: feasible group %s missing", tc.k, tc.tol, mc.SourceID)
				}
			}
		}
	}
}

func TestBalanceDropsIncompleteMembers(t *testing.T) {
	records := ensemble(t, "M", "historical", 3, "tas", "pr")
	records = append(records, rec(func(o *recOpts) { o.member = "r9i1p1f1"; o.variable = "tas" }))
	c := build(t, records...)
	out, err := c.Balance(3, 0, nil)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !sameStrings(members(out), []string{"r1i1p1f1", "r2i1p1f1", "r3i1p1f1"}) {
		t.Fatalf("members = %v", members(out))
	}
	onlyTas, _ := c.Balance(4, 0, []string{"tas"})
	if onlyTas.Len() != 4 {
		t.Fatalf("tas-only balance kept %d datasets", onlyTas.Len())
	}
}

func TestBalanceRejectsInvalidArguments(t *testing.T) {
	c := build(t, rec(nil))
	if _, err := c.Balance(0, 0, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for k=0, got %v", err)
	}
	if _, err := c.Balance(1, -1, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for t<0, got %v", err)
	}
}

type firstSampler struct{}

func (firstSampler) Sample(_ int64, _ string, members []string, k int) []string { return members[:k] }

func TestBalanceWithCustomSampler(t *testing.T) {
	c := build(t, ensemble(t, "M", "historical", 5)...)
	out, err := c.BalanceWith(firstSampler{}, 2, 0, nil)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !sameStrings(members(out), []string{"r1i1p1f1", "r2i1p1f1"}) {
		t.Fatalf("members = %v", members(out))
	}
}

func TestShuffleSamplerPinned(t *testing.T) {
	pool := []string{"r7i1p1f1", "r1i1p1f1", "r3i1p1f1", "r2i1p1f1", "r5i1p1f1", "r6i1p1f1", "r4i1p1f1"}
	got := ShuffleSampler{}.Sample(42, "N/ssp585", pool, 4)
	if !sameStrings(got, []string{"r1i1p1f1", "r2i1p1f1", "r4i1p1f1", "r6i1p1f1"}) {
		t.Fatalf("sample = %v", got)
	}
	if pool[0] != "r7i1p1f1" {
		t.Fatalf("input mutated")
	}
	if all := (ShuffleSampler{}).Sample(1, "g", pool, 10); len(all) != 7 || all[0] != "r1i1p1f1" {
		t.Fatalf("k >= n should return every member sorted: %v", all)
	}
}
