// Package cmd provides the command-line interface for pfsim.
package cmd

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// logLevelEnv names the environment variable that sets the default log level.
const logLevelEnv = "PFSIM_LOG_LEVEL"

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pfsim",
		Short: "pfsim replays memory traces through ISB and AMPM prefetchers.",
		Long: `pfsim replays memory access traces through a tag-only cache ` +
			`with an ISB or AMPM hardware prefetcher attached, and reports ` +
			`coverage, accuracy and metadata traffic.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(cmd)
		},
	}

	root.PersistentFlags().String("log-level", "",
		"Log level (trace, debug, info, warn, error). "+
			"Defaults to $"+logLevelEnv+" or info.")

	root.AddCommand(newRunCmd())
	root.AddCommand(newBenchCmd())
	root.AddCommand(newConfigCmd())

	return root
}

// setupLogging loads .env from the working directory and applies the log
// level. The flag wins over the environment.
func setupLogging(cmd *cobra.Command) error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	level, _ := cmd.Flags().GetString("log-level")
	if level == "" {
		level = os.Getenv(logLevelEnv)
	}
	if level == "" {
		level = "info"
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	logrus.SetLevel(parsed)
	logrus.SetOutput(cmd.ErrOrStderr())

	return nil
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
