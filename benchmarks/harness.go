package benchmarks

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/pfsim/loader"
	"github.com/sarchlab/pfsim/timing/config"
	"github.com/sarchlab/pfsim/timing/core"
)

// BenchmarkResult holds the outcome of replaying one trace.
type BenchmarkResult struct {
	// Name identifies the benchmark
	Name string `json:"name"`

	// Description explains what the benchmark exercises
	Description string `json:"description"`

	// Prefetcher is the engine that was evaluated
	Prefetcher string `json:"prefetcher"`

	Accesses uint64 `json:"accesses"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	MSHRHits uint64 `json:"mshr_hits"`

	PrefetchesSent      uint64 `json:"prefetches_sent"`
	PrefetchesUseful    uint64 `json:"prefetches_useful"`
	PrefetchesUseless   uint64 `json:"prefetches_useless"`
	PrefetchesRedundant uint64 `json:"prefetches_redundant"`

	MetadataReads  uint64 `json:"metadata_reads"`
	MetadataWrites uint64 `json:"metadata_writes"`

	// Coverage is the fraction of would-be misses removed by prefetching
	Coverage float64 `json:"coverage"`

	// Accuracy is the fraction of prefetches later demanded
	Accuracy float64 `json:"accuracy"`

	// AverageLatency is the mean demand latency in cycles
	AverageLatency float64 `json:"average_latency"`

	// WallTime is the host time the run took
	WallTime time.Duration `json:"wall_time_ns"`
}

// Benchmark pairs a trace with a name.
type Benchmark struct {
	Name        string
	Description string
	Trace       *loader.Trace
}

// Evaluate replays trace with a fresh driver built from c.
func Evaluate(c *config.Config, trace *loader.Trace) (BenchmarkResult, error) {
	return evaluate(c, Benchmark{Name: trace.Name, Trace: trace}, nil)
}

func evaluate(
	c *config.Config,
	bench Benchmark,
	logger logrus.FieldLogger,
) (BenchmarkResult, error) {
	d, err := core.NewDriver(c, logger)
	if err != nil {
		return BenchmarkResult{}, err
	}

	start := time.Now()
	stats := d.Run(bench.Trace)
	wallTime := time.Since(start)

	return BenchmarkResult{
		Name:                bench.Name,
		Description:         bench.Description,
		Prefetcher:          string(c.Prefetcher),
		Accesses:            stats.Accesses,
		Hits:                stats.Cache.Hits,
		Misses:              stats.Cache.Misses,
		MSHRHits:            stats.Cache.MSHRHits,
		PrefetchesSent:      stats.PrefetchesSent,
		PrefetchesUseful:    stats.Cache.PrefetchesUseful,
		PrefetchesUseless:   stats.Cache.PrefetchesUseless,
		PrefetchesRedundant: stats.Cache.PrefetchesRedundant,
		MetadataReads:       stats.MetadataReads,
		MetadataWrites:      stats.MetadataWrites,
		Coverage:            stats.Coverage(),
		Accuracy:            stats.Accuracy(),
		AverageLatency:      stats.AverageLatency(),
		WallTime:            wallTime,
	}, nil
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// Config is the simulation configuration every benchmark runs with
	Config *config.Config

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Logger receives per-run progress (default: logrus standard logger)
	Logger logrus.FieldLogger
}

// DefaultHarnessConfig returns a default harness configuration.
func DefaultHarnessConfig() HarnessConfig {
	return HarnessConfig{
		Config: config.DefaultConfig(),
		Output: os.Stdout,
		Logger: logrus.StandardLogger(),
	}
}

// Harness runs benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Config == nil {
		config.Config = DefaultHarnessConfig().Config
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	return &Harness{
		config:     config,
		benchmarks: []Benchmark{},
	}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// RunAll executes all benchmarks and returns results.
func (h *Harness) RunAll() ([]BenchmarkResult, error) {
	results := make([]BenchmarkResult, 0, len(h.benchmarks))

	for _, bench := range h.benchmarks {
		result, err := evaluate(h.config.Config, bench, h.config.Logger)
		if err != nil {
			return nil, fmt.Errorf("benchmark %s: %w", bench.Name, err)
		}
		results = append(results, result)
	}

	return results, nil
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	out := h.config.Output

	_, _ = fmt.Fprintln(out, "=== Prefetcher Benchmark Results ===")
	_, _ = fmt.Fprintln(out, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(out, "Benchmark: %s (%s)\n", r.Name, r.Prefetcher)
		if r.Description != "" {
			_, _ = fmt.Fprintf(out, "  Description: %s\n", r.Description)
		}
		_, _ = fmt.Fprintln(out, "  --- Cache ---")
		_, _ = fmt.Fprintf(out, "  Accesses:  %d\n", r.Accesses)
		_, _ = fmt.Fprintf(out, "  Hits:      %d\n", r.Hits)
		_, _ = fmt.Fprintf(out, "  Misses:    %d\n", r.Misses)
		_, _ = fmt.Fprintf(out, "  MSHR Hits: %d\n", r.MSHRHits)
		_, _ = fmt.Fprintln(out, "  --- Prefetch ---")
		_, _ = fmt.Fprintf(out, "  Sent:      %d\n", r.PrefetchesSent)
		_, _ = fmt.Fprintf(out, "  Useful:    %d\n", r.PrefetchesUseful)
		_, _ = fmt.Fprintf(out, "  Useless:   %d\n", r.PrefetchesUseless)
		_, _ = fmt.Fprintf(out, "  Coverage:  %.1f%%\n", 100*r.Coverage)
		_, _ = fmt.Fprintf(out, "  Accuracy:  %.1f%%\n", 100*r.Accuracy)
		if r.MetadataReads > 0 || r.MetadataWrites > 0 {
			_, _ = fmt.Fprintln(out, "  --- Metadata ---")
			_, _ = fmt.Fprintf(out, "  Reads:     %d\n", r.MetadataReads)
			_, _ = fmt.Fprintf(out, "  Writes:    %d\n", r.MetadataWrites)
		}
		_, _ = fmt.Fprintf(out, "  Avg Latency: %.2f cycles\n", r.AverageLatency)
		_, _ = fmt.Fprintf(out, "  Wall Time: %v\n", r.WallTime)
		_, _ = fmt.Fprintln(out, "")
	}
}

// PrintCSV outputs benchmark results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output,
		"name,prefetcher,accesses,hits,misses,mshr_hits,sent,useful,useless,redundant,metadata_reads,metadata_writes,coverage,accuracy")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "%s,%s,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%.4f,%.4f\n",
			r.Name,
			r.Prefetcher,
			r.Accesses,
			r.Hits,
			r.Misses,
			r.MSHRHits,
			r.PrefetchesSent,
			r.PrefetchesUseful,
			r.PrefetchesUseless,
			r.PrefetchesRedundant,
			r.MetadataReads,
			r.MetadataWrites,
			r.Coverage,
			r.Accuracy,
		)
	}
}

// BenchmarkReport is the complete output format for benchmark results.
type BenchmarkReport struct {
	Metadata ReportMetadata    `json:"metadata"`
	Config   *config.Config    `json:"config"`
	Results  []BenchmarkResult `json:"results"`
	Summary  ReportSummary     `json:"summary"`
}

// ReportMetadata contains information about the benchmark run.
type ReportMetadata struct {
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// ReportSummary contains aggregate statistics across all benchmarks.
type ReportSummary struct {
	TotalBenchmarks int           `json:"total_benchmarks"`
	TotalAccesses   uint64        `json:"total_accesses"`
	MeanCoverage    float64       `json:"mean_coverage"`
	MeanAccuracy    float64       `json:"mean_accuracy"`
	TotalWallTime   time.Duration `json:"total_wall_time_ns"`
}

// Version is reported in JSON results.
const Version = "0.1.0"

// PrintJSON outputs benchmark results in JSON format for automated comparison.
func (h *Harness) PrintJSON(results []BenchmarkResult) error {
	summary := ReportSummary{TotalBenchmarks: len(results)}
	for _, r := range results {
		summary.TotalAccesses += r.Accesses
		summary.MeanCoverage += r.Coverage
		summary.MeanAccuracy += r.Accuracy
		summary.TotalWallTime += r.WallTime
	}

	if len(results) > 0 {
		summary.MeanCoverage /= float64(len(results))
		summary.MeanAccuracy /= float64(len(results))
	}

	report := BenchmarkReport{
		Metadata: ReportMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   Version,
		},
		Config:  h.config.Config,
		Results: results,
		Summary: summary,
	}

	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
