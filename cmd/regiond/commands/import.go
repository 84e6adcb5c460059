package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-habz/maas/internal/logger"
	"github.com/git-habz/maas/pkg/bootresources"
	"github.com/git-habz/maas/pkg/bootresources/postgres"
	"github.com/git-habz/maas/pkg/config"
	"github.com/git-habz/maas/pkg/sources"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Run one boot-resource import and exit",
	Long: `Import boot resources from the configured simplestreams sources.
When another import is already running region-wide, the command logs that
and exits successfully without queueing.`,
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

		ctx := cmd.Context()
		store, err := postgres.NewStore(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("opening boot resource store: %w", err)
		}
		defer store.Close()

		controlPlane, err := sources.Open(cfg.ControlPlane)
		if err != nil {
			return fmt.Errorf("opening control plane store: %w", err)
		}
		defer controlPlane.Close()

		importer := bootresources.NewImporter(store, controlPlane, nil, cfg.Import)
		return importer.ImportResources(ctx)
	},
}
