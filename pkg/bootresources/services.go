package bootresources

import (
	"context"
	"fmt"
	"time"

	"github.com/git-habz/maas/internal/logger"
	"github.com/git-habz/maas/pkg/rackrpc"
	"github.com/git-habz/maas/pkg/sources"
)

// Service periods. Both services tick once at startup and every interval
// after that.
const (
	ImportResourcesServicePeriod = time.Hour
	ImportProgressServicePeriod  = 3 * time.Minute
)

// ImportResourcesService periodically triggers the boot-resource import.
//
// Every tick is absorbed: a tick either starts an import (which the advisory
// lock keeps singular region-wide) or logs why it did not. The service never
// surfaces errors to its host.
type ImportResourcesService struct {
	importer     *Importer
	store        Store
	controlPlane *sources.Store
	interval     time.Duration

	// devEnvironment suppresses automatic imports on workstations that
	// have never imported anything, so a developer region does not start
	// pulling gigabytes.
	devEnvironment bool
}

// NewImportResourcesService creates the auto-import service with the default
// period.
func NewImportResourcesService(importer *Importer, store Store, controlPlane *sources.Store, devEnvironment bool) *ImportResourcesService {
	return &ImportResourcesService{
		importer:       importer,
		store:          store,
		controlPlane:   controlPlane,
		interval:       ImportResourcesServicePeriod,
		devEnvironment: devEnvironment,
	}
}

// WithInterval overrides the tick period. Used by tests.
func (s *ImportResourcesService) WithInterval(interval time.Duration) *ImportResourcesService {
	s.interval = interval
	return s
}

// Run ticks immediately and then every interval until the context ends.
func (s *ImportResourcesService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.maybeImportResources(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// maybeImportResources triggers an import when automatic imports are
// enabled.
func (s *ImportResourcesService) maybeImportResources(ctx context.Context) {
	auto, err := s.shouldImport(ctx)
	if err != nil {
		logger.Error("Failure importing boot resources", logger.Err(err))
		return
	}
	if !auto {
		logger.Debug("Skipping periodic import of boot resources; it has been disabled")
		return
	}
	s.importer.Trigger(ctx)
}

func (s *ImportResourcesService) shouldImport(ctx context.Context) (bool, error) {
	auto, err := s.controlPlane.ConfigGetBool(sources.ConfigBootImagesAutoImport, true)
	if err != nil {
		return false, err
	}
	if !auto {
		return false, nil
	}
	if s.devEnvironment {
		var anySets bool
		err := s.store.WithTransaction(ctx, func(tx Tx) error {
			var txErr error
			anySets, txErr = tx.AnySetsExist()
			return txErr
		})
		if err != nil {
			return false, err
		}
		if !anySets {
			return false, nil
		}
	}
	return true, nil
}

// Warnings shown while the region has no boot resources. The images page
// link is substituted in.
const (
	warningRackHasImages = `One or more of your rack controller(s) currently has boot images, but your
region controller does not. Machines will not be able to provision until
you import boot images into the region. Visit the
<a href="%s">boot images</a> page to start the import.`

	warningNoImages = `Boot image import process not started. Machines will not be able to
provision without boot images. Visit the
<a href="%s">boot images</a> page to start the import.`
)

// ImportProgressService periodically reconciles the "no boot images"
// warning: cleared once the region has resources, otherwise set to a message
// that reflects whether any rack imported images on its own.
type ImportProgressService struct {
	store        Store
	controlPlane *sources.Store
	racks        rackrpc.ClientProvider
	interval     time.Duration

	// imagesURL is the absolute URL of the images admin page embedded in
	// the warnings.
	imagesURL string
}

// NewImportProgressService creates the progress service with the default
// period.
func NewImportProgressService(store Store, controlPlane *sources.Store, racks rackrpc.ClientProvider, imagesURL string) *ImportProgressService {
	return &ImportProgressService{
		store:        store,
		controlPlane: controlPlane,
		racks:        racks,
		interval:     ImportProgressServicePeriod,
		imagesURL:    imagesURL,
	}
}

// WithInterval overrides the tick period. Used by tests.
func (s *ImportProgressService) WithInterval(interval time.Duration) *ImportProgressService {
	s.interval = interval
	return s
}

// Run ticks immediately and then every interval until the context ends.
func (s *ImportProgressService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.checkBootImages(ctx); err != nil {
			logger.Error("Failure checking for boot images", logger.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *ImportProgressService) checkBootImages(ctx context.Context) error {
	var haveResources bool
	err := s.store.WithTransaction(ctx, func(tx Tx) error {
		var err error
		haveResources, err = tx.AnyResourcesExist()
		return err
	})
	if err != nil {
		return err
	}

	if haveResources {
		// The region has boot resources; the racks will too, soon enough.
		return s.controlPlane.DiscardPersistentError(sources.ComponentImportPXEFiles)
	}

	// The racks may have imported images from another source; tell the
	// operator which situation they are in.
	warning := warningNoImages
	if rackrpc.AnyRackHasImages(ctx, s.racks, rackrpc.DefaultQueryTimeout) {
		warning = warningRackHasImages
	}
	return s.controlPlane.RegisterPersistentError(
		sources.ComponentImportPXEFiles, fmt.Sprintf(warning, s.imagesURL))
}
