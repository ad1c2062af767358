// Package benchmarks provides synthetic access patterns and the harness
// that scores prefetch engines on them.
package benchmarks

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/sarchlab/pfsim/loader"
)

// Base addresses of the synthetic patterns. They sit in distinct 16 KiB
// zones so mixed patterns do not share access maps.
const (
	sequentialBase uint64 = 0x1000_0000
	stridedBase    uint64 = 0x2000_0000
	irregularBase  uint64 = 0x3000_0000

	lineSize uint64 = 64
)

// Training keys of the synthetic loads.
const (
	sequentialKey uint64 = 0x400100
	stridedKey    uint64 = 0x400200
	irregularKey  uint64 = 0x400300
)

// Sequential returns n accesses to consecutive lines.
func Sequential(n int) *loader.Trace {
	trace := &loader.Trace{Name: "sequential"}

	for i := 0; i < n; i++ {
		trace.Accesses = append(trace.Accesses, loader.Access{
			Key:  sequentialKey,
			Addr: sequentialBase + uint64(i)*lineSize,
		})
	}

	return trace
}

// Strided returns n accesses stride lines apart. A negative stride walks
// down from the top of the region.
func Strided(n int, stride int) *loader.Trace {
	trace := &loader.Trace{Name: fmt.Sprintf("strided-%d", stride)}

	step := int64(stride) * int64(lineSize)
	start := int64(stridedBase)
	if stride < 0 {
		start -= step * int64(n)
	}

	for i := 0; i < n; i++ {
		trace.Accesses = append(trace.Accesses, loader.Access{
			Key:  stridedKey,
			Addr: uint64(start + int64(i)*step),
		})
	}

	return trace
}

// RepeatedIrregular returns n accesses that replay one pointer chase over
// footprint lines scattered across pages. The chase order is fixed by seed,
// so the same irregular sequence repeats until n accesses are produced.
func RepeatedIrregular(n, footprint int, seed uint64) *loader.Trace {
	trace := &loader.Trace{Name: fmt.Sprintf("irregular-%d", footprint)}
	if footprint <= 0 {
		return trace
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	// Pick footprint distinct lines from a region 16 times larger.
	region := uint64(footprint) * 16
	picked := make(map[uint64]bool, footprint)
	nodes := make([]uint64, 0, footprint)
	for len(nodes) < footprint {
		line := rng.Uint64N(region)
		if picked[line] {
			continue
		}
		picked[line] = true
		nodes = append(nodes, irregularBase+line*lineSize)
	}
	rng.Shuffle(len(nodes), func(i, j int) {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	})

	for i := 0; i < n; i++ {
		trace.Accesses = append(trace.Accesses, loader.Access{
			Key:  irregularKey,
			Addr: nodes[i%footprint],
		})
	}

	return trace
}

// Mixed interleaves a sequential stream, a strided stream and a repeated
// irregular chase in random order, n accesses in total.
func Mixed(n int, seed uint64) *loader.Trace {
	parts := []*loader.Trace{
		Sequential(n),
		Strided(n, 3),
		RepeatedIrregular(n, 256, seed),
	}
	next := make([]int, len(parts))

	rng := rand.New(rand.NewPCG(seed+1, seed))
	trace := &loader.Trace{Name: "mixed"}

	for i := 0; i < n; i++ {
		p := rng.IntN(len(parts))
		trace.Accesses = append(trace.Accesses, parts[p].Accesses[next[p]])
		next[p]++
	}

	return trace
}

// DefaultSeed seeds the random patterns when no seed is given.
const DefaultSeed = 42

var generators = map[string]func(n int, seed uint64) *loader.Trace{
	"sequential": func(n int, _ uint64) *loader.Trace { return Sequential(n) },
	"strided":    func(n int, _ uint64) *loader.Trace { return Strided(n, 4) },
	"descending": func(n int, _ uint64) *loader.Trace { return Strided(n, -1) },
	"irregular": func(n int, seed uint64) *loader.Trace {
		return RepeatedIrregular(n, 1024, seed)
	},
	"mixed": Mixed,
}

var descriptions = map[string]string{
	"sequential": "consecutive lines, the easy case for spatial prefetching",
	"strided":    "every fourth line",
	"descending": "consecutive lines walked downwards",
	"irregular":  "a 1024-line pointer chase replayed in the same order",
	"mixed":      "sequential, strided and irregular streams interleaved",
}

// PatternNames lists the patterns Pattern knows, sorted.
func PatternNames() []string {
	names := make([]string, 0, len(generators))
	for name := range generators {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Pattern generates the named pattern with n accesses.
func Pattern(name string, n int, seed uint64) (*loader.Trace, error) {
	gen, ok := generators[name]
	if !ok {
		return nil, fmt.Errorf("unknown pattern %q (known: %v)", name, PatternNames())
	}

	return gen(n, seed), nil
}

// GetPatternBenchmarks returns one benchmark per known pattern.
func GetPatternBenchmarks(n int, seed uint64) []Benchmark {
	benchmarks := make([]Benchmark, 0, len(generators))

	for _, name := range PatternNames() {
		trace, _ := Pattern(name, n, seed)
		benchmarks = append(benchmarks, Benchmark{
			Name:        name,
			Description: descriptions[name],
			Trace:       trace,
		})
	}

	return benchmarks
}
