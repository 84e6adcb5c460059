package commands

import (
	"github.com/spf13/cobra"

	"github.com/git-habz/maas/internal/logger"
	"github.com/git-habz/maas/pkg/bootresources/postgres"
	"github.com/git-habz/maas/pkg/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := logger.Init(logger.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		}); err != nil {
			return err
		}
		cfg.Database.ApplyDefaults()
		return postgres.RunMigrations(
			cmd.Context(),
			cfg.Database.ConnectionString(),
			logger.With("component", "migrate"),
		)
	},
}
