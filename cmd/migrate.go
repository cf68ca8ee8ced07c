package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/shotcast/internal/config"
	"github.com/JakeFAU/shotcast/internal/logging"
	"github.com/JakeFAU/shotcast/internal/server"
)

var runMigrate = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	return server.Migrate(ctx, cfg, logger)
}

// newMigrateCmd creates the 'migrate' subcommand. It applies the relational
// schema and upserts the projects listed in the configuration.
func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates the database schema and seeds configured projects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort flush
			return runMigrate(cmd.Context(), cfg, logger)
		},
	}
}
