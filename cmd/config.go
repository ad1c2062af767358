package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/pfsim/timing/config"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect simulator configurations.",
	}

	dumpCmd := &cobra.Command{
		Use:   "dump [path]",
		Short: "Write the default configuration.",
		Long: "`config dump` prints the default configuration as JSON. " +
			"`config dump <path>` writes it to path instead; a .yaml or " +
			".yml extension selects YAML.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()

			if len(args) == 1 {
				if err := cfg.SaveConfig(args[0]); err != nil {
					return err
				}

				_, _ = fmt.Fprintf(cmd.OutOrStdout(),
					"Configuration written to %s\n", args[0])

				return nil
			}

			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))

			return nil
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Load and validate a configuration file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(args[0])
			if err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s)\n",
				args[0], cfg.Prefetcher)

			return nil
		},
	}

	configCmd.AddCommand(dumpCmd, checkCmd)

	return configCmd
}
