package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/figueredoestupinan2025/rpa-productos/internal/catalog"
	"github.com/figueredoestupinan2025/rpa-productos/internal/clock"
	"github.com/figueredoestupinan2025/rpa-productos/internal/store"
)

// newStatusCmd creates the 'status' subcommand, a health probe of the API
// and the local database.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Checks API reachability and database health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()

			client := catalog.NewClient(cfg.API, cfg.Dirs.RawDir(), clock.System{}, logger)
			apiOK := client.Ping(ctx)
			logger.Info("api status",
				zap.String("endpoint", cfg.API.ProductsEndpoint()),
				zap.Bool("reachable", apiOK))
			if apiOK {
				if categories, err := client.FetchCategories(ctx); err == nil {
					logger.Info("catalog categories", zap.Strings("categories", categories))
				}
			}

			db, err := store.Open(cfg.DB.Path, logger)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			health := db.HealthCheck(ctx)
			logger.Info("database status",
				zap.String("path", cfg.DB.Path),
				zap.Bool("connected", health.Connected),
				zap.Bool("table_exists", health.TableExists),
				zap.Bool("integrity", health.Integrity),
				zap.Int("records", health.RecordCount),
				zap.String("last_insert", health.LastInsert))

			if !apiOK || !health.Connected || !health.Integrity {
				return fmt.Errorf("status check failed")
			}
			return nil
		},
	}
}
