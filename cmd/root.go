// Package cmd defines and implements the CLI commands for the rpa-productos
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/figueredoestupinan2025/rpa-productos/internal/config"
	"github.com/figueredoestupinan2025/rpa-productos/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rpa-productos",
		Short: "Sequential RPA pipeline for the product catalog.",
		Long: `rpa-productos consumes the remote product catalog, persists it to a
local SQLite database, renders a spreadsheet report and optionally uploads
the artifacts and submits a feedback form, leaving a JSON evidence trail of
every run.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./config.yaml)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newServeFormCmd())

	return cmd
}

// setup loads configuration, prepares directories and builds the logger.
// Shared by every subcommand.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, nil, fmt.Errorf("prepare directories: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development, cfg.Dirs.Logs)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return &cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
