package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/pfsim/loader"
	"github.com/sarchlab/pfsim/monitoring"
	"github.com/sarchlab/pfsim/timing/config"
	"github.com/sarchlab/pfsim/timing/core"
	"github.com/sarchlab/pfsim/timing/prefetch"
	"github.com/sarchlab/pfsim/timing/prefetch/pftrace"
)

type traceWriter interface {
	pftrace.Writer
	Init() error
	Close() error
	Path() string
}

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run <trace>",
		Short: "Replay a trace file through the configured prefetcher.",
		Long: "`run <trace>` replays a text trace (optionally gzip " +
			"compressed) and prints the cache and prefetcher statistics.",
		Args: cobra.ExactArgs(1),
		RunE: runTrace,
	}

	runCmd.Flags().String("config", "", "Configuration file (JSON or YAML)")
	runCmd.Flags().String("prefetcher", "",
		"Prefetcher to evaluate (isb, ampm, none); overrides the config")
	runCmd.Flags().String("trace-csv", "",
		"Record prefetcher requests to this CSV file (without extension)")
	runCmd.Flags().String("trace-sqlite", "",
		"Record prefetcher requests to this SQLite file (without extension)")
	runCmd.Flags().Int("monitor", -1,
		"Serve live statistics on this port (0 picks a free port)")
	runCmd.Flags().Bool("open-browser", false,
		"Open the monitor in a browser")

	return runCmd
}

func runTrace(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}

	trace, err := loader.Load(args[0])
	if err != nil {
		return err
	}

	logger := logrus.StandardLogger()

	driver, err := core.NewDriver(cfg, logger)
	if err != nil {
		return err
	}

	writers, err := attachTracers(cfg, driver, logger)
	if err != nil {
		return err
	}
	defer closeTracers(writers, logger)

	port, _ := cmd.Flags().GetInt("monitor")
	if port >= 0 {
		openBrowser, _ := cmd.Flags().GetBool("open-browser")

		m := monitoring.NewMonitor().
			WithPortNumber(port).
			WithBrowser(openBrowser).
			WithLogger(logger)
		m.RegisterTarget(driver)

		if _, err := m.StartServer(); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = m.StopServer(ctx)
		}()
	}

	stats := driver.Run(trace)
	printStats(cmd.OutOrStdout(), trace.Name, cfg.Prefetcher, stats)

	return nil
}

func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
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

	if cmd.Flags().Changed("trace-csv") {
		cfg.Trace.CSVPath, _ = cmd.Flags().GetString("trace-csv")
	}

	if cmd.Flags().Changed("trace-sqlite") {
		cfg.Trace.SQLitePath, _ = cmd.Flags().GetString("trace-sqlite")
	}

	return cfg, nil
}

func attachTracers(
	cfg *config.Config,
	driver *core.Driver,
	logger logrus.FieldLogger,
) ([]traceWriter, error) {
	var writers []traceWriter

	if cfg.Trace.CSVPath != "" {
		writers = append(writers,
			pftrace.NewCSVWriter(cfg.Trace.CSVPath).WithLogger(logger))
	}

	if cfg.Trace.SQLitePath != "" {
		writers = append(writers,
			pftrace.NewSQLiteWriter(cfg.Trace.SQLitePath).WithLogger(logger))
	}

	for i, w := range writers {
		if err := w.Init(); err != nil {
			closeTracers(writers[:i], logger)
			return nil, err
		}

		driver.AcceptHook(pftrace.NewRecorder(string(cfg.Prefetcher), driver, w))
	}

	return writers, nil
}

func closeTracers(writers []traceWriter, logger logrus.FieldLogger) {
	for _, w := range writers {
		if err := w.Close(); err != nil {
			logger.WithError(err).WithField("path", w.Path()).
				Error("failed to close trace")
			continue
		}

		logger.WithField("path", w.Path()).Info("trace written")
	}
}

func printStats(w io.Writer, name string, kind prefetch.Kind, s core.Stats) {
	_, _ = fmt.Fprintf(w, "trace:            %s\n", name)
	_, _ = fmt.Fprintf(w, "prefetcher:       %s\n", kind)
	_, _ = fmt.Fprintf(w, "accesses:         %d\n", s.Accesses)
	_, _ = fmt.Fprintf(w, "hits:             %d\n", s.Cache.Hits)
	_, _ = fmt.Fprintf(w, "misses:           %d\n", s.Cache.Misses)
	_, _ = fmt.Fprintf(w, "mshr hits:        %d\n", s.Cache.MSHRHits)
	_, _ = fmt.Fprintf(w, "tlb misses:       %d\n", s.TLB.Misses)
	_, _ = fmt.Fprintf(w, "prefetches sent:  %d\n", s.PrefetchesSent)
	_, _ = fmt.Fprintf(w, "useful:           %d\n", s.Cache.PrefetchesUseful)
	_, _ = fmt.Fprintf(w, "useless:          %d\n", s.Cache.PrefetchesUseless)
	_, _ = fmt.Fprintf(w, "metadata reads:   %d\n", s.MetadataReads)
	_, _ = fmt.Fprintf(w, "metadata writes:  %d\n", s.MetadataWrites)
	_, _ = fmt.Fprintf(w, "queue dropped:    %d\n", sum(s.Queue.Dropped))
	_, _ = fmt.Fprintf(w, "coverage:         %.2f%%\n", s.Coverage()*100)
	_, _ = fmt.Fprintf(w, "accuracy:         %.2f%%\n", s.Accuracy()*100)
	_, _ = fmt.Fprintf(w, "average latency:  %.2f cycles\n", s.AverageLatency())
}

func sum(counts [3]uint64) uint64 {
	var total uint64
	for _, c := range counts {
		total += c
	}
	return total
}
