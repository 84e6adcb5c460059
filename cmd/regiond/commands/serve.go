package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/git-habz/maas/internal/logger"
	"github.com/git-habz/maas/pkg/api"
	"github.com/git-habz/maas/pkg/bootresources"
	"github.com/git-habz/maas/pkg/bootresources/postgres"
	"github.com/git-habz/maas/pkg/config"
	"github.com/git-habz/maas/pkg/rackrpc"
	"github.com/git-habz/maas/pkg/sources"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the region controller",
	Long: `Serve the simplestreams images endpoint and run the periodic
boot-resource import and progress services until interrupted.`,
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
		return runServe(cmd.Context(), cfg)
	},
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	racks := rackrpc.NewRegistry()
	rackImporter := rackrpc.NewImporter(racks, []rackrpc.ImportSource{{
		URL: bootresources.RegionEndpoint(cfg.MAASURL).URL,
	}})

	importer := bootresources.NewImporter(store, controlPlane, rackImporter, cfg.Import)

	importService := bootresources.NewImportResourcesService(
		importer, store, controlPlane, cfg.DevEnvironment)
	progressService := bootresources.NewImportProgressService(
		store, controlPlane, racks, cfg.MAASURL+"/images/")

	go importService.Run(ctx)
	go progressService.Run(ctx)

	images := bootresources.NewHandler(store)
	router := api.NewRouter(images, nil)
	server := api.NewServer(cfg.HTTP, router)

	logger.Info("Region controller started", "version", Version)
	return server.Start(ctx)
}
