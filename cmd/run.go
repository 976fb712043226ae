package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/figueredoestupinan2025/rpa-productos/internal/catalog"
	"github.com/figueredoestupinan2025/rpa-productos/internal/clock"
	"github.com/figueredoestupinan2025/rpa-productos/internal/cloud"
	"github.com/figueredoestupinan2025/rpa-productos/internal/pipeline"
	"github.com/figueredoestupinan2025/rpa-productos/internal/report"
	"github.com/figueredoestupinan2025/rpa-productos/internal/store"
	"github.com/figueredoestupinan2025/rpa-productos/internal/webform"
)

// newRunCmd creates the 'run' subcommand, which executes the pipeline.
func newRunCmd() *cobra.Command {
	var steps string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Executes the pipeline stages",
		Long: `Runs the selected pipeline stages in order:

  1  consume the product catalog API
  2  insert products into the SQLite database
  3  generate the spreadsheet report
  4  upload artifacts to cloud storage
  5  submit the web feedback form
  6  generate the JSON evidence document

Steps accept "1,2,3" and "123" forms; omit --steps to run everything.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, steps)
		},
	}

	cmd.Flags().StringVar(&steps, "steps", "", `steps to run, e.g. "1,2,3" or "123" (default all)`)
	return cmd
}

func runPipeline(cmd *cobra.Command, rawSteps string) error {
	selected, err := pipeline.ParseSteps(rawSteps)
	if err != nil {
		return err
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DB.Path, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	clk := clock.System{}
	p := pipeline.New(cfg,
		catalog.NewClient(cfg.API, cfg.Dirs.RawDir(), clk, logger),
		db,
		report.NewGenerator(cfg.Dirs.Reports, cfg.Report.IncludeChart, clk, logger),
		cloud.NewUploader(cfg.Cloud, logger),
		webform.NewSubmitter(cfg.Form, cfg.Dirs.Evidence, cfg.Dirs.Reports, clk, logger),
		clk, logger)

	if err := p.Run(ctx, selected); err != nil {
		logger.Error("run failed", zap.Error(err))
		return err
	}
	return nil
}
