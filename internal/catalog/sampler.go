package catalog

import (
	"hash/fnv"
	"sort"
)

// Sampler picks k members of a configuration. Implementations must be
// deterministic for a given seed, group and member list.
type Sampler interface {
	Sample(seed int64, group string, members []string, k int) []string
}

// ShuffleSampler is the default Sampler. Members are sorted by byte order,
// a SplitMix64 generator is seeded with seed XOR FNV-1a-64(group) and the
// first k positions of a Fisher-Yates shuffle are drawn, where position i
// swaps with i + next() mod (n-i). The selection is returned sorted.
type ShuffleSampler struct{}

func (ShuffleSampler) Sample(seed int64, group string, members []string, k int) []string {
	pool := append([]string(nil), members...)
	sort.Strings(pool)
	if k >= len(pool) {
		return pool
	}
	if k <= 0 {
		return nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(group))
	rng := splitMix64{state: uint64(seed) ^ h.Sum64()}
	n := len(pool)
	for i := 0; i < k; i++ {
		j := i + int(rng.next()%uint64(n-i))
		pool[i], pool[j] = pool[j], pool[i]
	}
	picked := pool[:k]
	sort.Strings(picked)
	return picked
}

type splitMix64 struct {
	state uint64
}

func (s *splitMix64) next() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
