package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/pfsim/benchmarks"
	"github.com/sarchlab/pfsim/timing/config"
	"github.com/sarchlab/pfsim/timing/prefetch"
)

func newBenchCmd() *cobra.Command {
	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Run the synthetic access patterns.",
		Long: "`bench` generates synthetic traces and evaluates the " +
			"configured prefetcher on each of them.",
		Args: cobra.NoArgs,
		RunE: runBench,
	}

	benchCmd.Flags().String("pattern", "",
		fmt.Sprintf("Only run this pattern %v", benchmarks.PatternNames()))
	benchCmd.Flags().Int("length", 100000, "Accesses per pattern")
	benchCmd.Flags().Uint64("seed", benchmarks.DefaultSeed,
		"Seed of the randomized patterns")
	benchCmd.Flags().String("format", "text", "Output format (text, csv, json)")
	benchCmd.Flags().String("config", "", "Configuration file (JSON or YAML)")
	benchCmd.Flags().String("prefetcher", "",
		"Prefetcher to evaluate (isb, ampm, none); overrides the config")

	return benchCmd
}

func runBench(cmd *cobra.Command, _ []string) error {
	cfg, err := loadBenchConfig(cmd)
	if err != nil {
		return err
	}

	length, _ := cmd.Flags().GetInt("length")
	if length <= 0 {
		return fmt.Errorf("length %d must be positive", length)
	}

	seed, _ := cmd.Flags().GetUint64("seed")
	pattern, _ := cmd.Flags().GetString("pattern")
	format, _ := cmd.Flags().GetString("format")

	if format != "text" && format != "csv" && format != "json" {
		return fmt.Errorf("unknown format %q", format)
	}

	if pattern != "" {
		if _, err := benchmarks.Pattern(pattern, 1, seed); err != nil {
			return err
		}
	}

	harness := benchmarks.NewHarness(benchmarks.HarnessConfig{
		Config: cfg,
		Output: cmd.OutOrStdout(),
		Logger: logrus.StandardLogger(),
	})

	for _, b := range benchmarks.GetPatternBenchmarks(length, seed) {
		if pattern == "" || b.Name == pattern {
			harness.AddBenchmark(b)
		}
	}

	results, err := harness.RunAll()
	if err != nil {
		return err
	}

	switch format {
	case "csv":
		harness.PrintCSV(results)
	case "json":
		return harness.PrintJSON(results)
	default:
		harness.PrintResults(results)
	}

	return nil
}

func loadBenchConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("prefetcher") {
		name, _ := cmd.Flags().GetString("prefetcher")
		kind, err := prefetch.ParseKind(name)
		if err != nil {
			return nil, err
		}
		cfg.Prefetcher = kind
	}

	return cfg, nil
}
