package bootresources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/git-habz/maas/internal/logger"
	"github.com/git-habz/maas/pkg/simplestreams"
	"github.com/git-habz/maas/pkg/sources"
)

// RackImporter starts the boot-image import on the rack controllers. It is
// invoked only after a finalized import.
type RackImporter interface {
	Run(ctx context.Context)
}

// ImporterConfig configures an import run's environment.
type ImporterConfig struct {
	// UserAgent identifies the region to upstream mirrors.
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`

	// UpstreamTimeout is one deadline shared by all catalog and content
	// fetches of a run, including the queued content writes.
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout" yaml:"upstream_timeout"`

	// GPGHome is the scratch directory used as the gnupg home while
	// verifying signed catalogs.
	GPGHome string `mapstructure:"gpg_home" yaml:"gpg_home"`

	// KeyringsDir is where per-run keyring directories are staged. Empty
	// means the system temp directory.
	KeyringsDir string `mapstructure:"keyrings_dir" yaml:"keyrings_dir"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *ImporterConfig) ApplyDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = "MAAS regiond"
	}
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = 60 * time.Minute
	}
	if c.GPGHome == "" {
		c.GPGHome = os.ExpandEnv("$HOME/.gnupg")
	}
}

// Importer coordinates one region-wide import: the advisory-lock gate, the
// keyring staging, the sync pipeline, defaults seeding, and the rack
// fan-out.
type Importer struct {
	store        Store
	controlPlane *sources.Store
	rackImporter RackImporter
	cfg          ImporterConfig
}

// NewImporter wires an importer. rackImporter may be nil when no racks are
// managed (e.g. one-shot CLI imports).
func NewImporter(store Store, controlPlane *sources.Store, rackImporter RackImporter, cfg ImporterConfig) *Importer {
	cfg.ApplyDefaults()
	return &Importer{
		store:        store,
		controlPlane: controlPlane,
		rackImporter: rackImporter,
		cfg:          cfg,
	}
}

// IsRunning reports whether an import currently holds the region lock.
func (i *Importer) IsRunning(ctx context.Context) (bool, error) {
	return i.store.ImportLockHeld(ctx)
}

// Trigger starts an import in the background and returns immediately. All
// errors end up in the log; callers cannot fail.
func (i *Importer) Trigger(ctx context.Context) {
	go func() {
		if err := i.ImportResources(ctx); err != nil {
			logger.Error("Importing boot resources failed", logger.Err(err))
		}
	}()
}

// ImportResources runs one import to completion.
//
// It must not be called inside a database transaction: the run manages its
// own transactions and keeps them short, and a surrounding transaction would
// be held across upstream fetches.
func (i *Importer) ImportResources(ctx context.Context) error {
	unlock, err := i.store.TryImportLock(ctx)
	if errors.Is(err, ErrLockNotHeld) {
		logger.Debug("Skipping import as another import is already running")
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquiring import lock: %w", err)
	}
	defer unlock.Unlock()

	runID := uuid.NewString()
	start := time.Now()

	outcome, err := i.runLocked(ctx, runID)
	importRuns.WithLabelValues(outcome).Inc()
	if err != nil {
		return err
	}
	logger.Info("Import run finished",
		logger.KeyRunID, runID,
		"outcome", outcome,
		logger.DurationMs(logger.Duration(start)))
	return nil
}

// runLocked is the body of an import run, with the lock already held.
func (i *Importer) runLocked(ctx context.Context, runID string) (string, error) {
	// The gnupg home must exist before any signature verification runs.
	if err := os.MkdirAll(i.cfg.GPGHome, 0o700); err != nil {
		return outcomeFailed, fmt.Errorf("creating gnupg home: %w", err)
	}

	created, err := i.controlPlane.EnsureDefaultDefinition()
	if err != nil {
		return outcomeFailed, fmt.Errorf("ensuring boot source definition: %w", err)
	}
	if created {
		logger.Info("Seeded default boot source definition")
	}

	// Keyrings are staged into a directory scoped to this run and removed
	// on every exit path.
	keyringsDir, err := os.MkdirTemp(i.cfg.KeyringsDir, "maas-keyrings-")
	if err != nil {
		return outcomeFailed, fmt.Errorf("creating keyring directory: %w", err)
	}
	defer os.RemoveAll(keyringsDir)

	rows, err := i.controlPlane.Sources()
	if err != nil {
		return outcomeFailed, fmt.Errorf("loading boot sources: %w", err)
	}
	srcs, err := sources.WriteAllKeyrings(keyringsDir, rows)
	if err != nil {
		return outcomeFailed, err
	}
	logger.Info("Started importing boot images",
		logger.KeyRunID, runID, logger.KeySources, len(srcs))

	runCtx, cancel := context.WithTimeout(ctx, i.cfg.UpstreamTimeout)
	defer cancel()

	descriptions, err := downloadAllImageDescriptions(runCtx, srcs, i.cfg.UserAgent)
	if err != nil {
		return outcomeFailed, err
	}
	if descriptions.IsEmpty() {
		logger.Warn("Unable to import boot images, no image descriptions available")
		return outcomeSkipped, nil
	}
	mapping := descriptions.ProductMapping()

	finalized, err := i.downloadAllBootResources(runCtx, srcs, mapping)
	if err != nil {
		return outcomeFailed, err
	}

	if err := i.setGlobalDefaultReleases(ctx); err != nil {
		// Defaults seeding is best effort; the images themselves are in.
		logger.Warn("Failed to seed default release configuration", logger.Err(err))
	}

	if !finalized {
		return outcomeSkipped, nil
	}

	if i.rackImporter != nil {
		go i.rackImporter.Run(ctx)
	}
	logger.Info("Finished importing boot images",
		logger.KeyRunID, runID, logger.KeySources, len(srcs))
	return outcomeFinalized, nil
}

// downloadAllBootResources syncs every source through one resource store and
// finalizes it. Returns false when the safety gate aborted finalization.
func (i *Importer) downloadAllBootResources(ctx context.Context, srcs []sources.SourceConfig, mapping *simplestreams.ProductMapping) (bool, error) {
	logger.Debug("Initializing boot resource store")
	rs, err := newResourceStore(ctx, i.store)
	if err != nil {
		return false, err
	}

	for _, src := range srcs {
		logger.Info("Importing images from source", logger.SourceURL(src.URL))
		mirror, path := simplestreams.PathFromMirrorURL(src.URL)
		policy := simplestreams.GetSigningPolicy(path, src.KeyringPath)
		reader := simplestreams.NewReader(mirror, policy, i.cfg.UserAgent)
		writer := newRepoWriter(rs, mapping)
		if err := simplestreams.Sync(ctx, reader, path, writer, syncConfig); err != nil {
			return false, fmt.Errorf("syncing %s: %w", src.URL, err)
		}
	}

	logger.Debug("Finalizing boot resource store")
	if err := rs.Finalize(ctx); err != nil {
		if errors.Is(err, ErrSafetyGateTripped) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// setGlobalDefaultReleases seeds the commissioning and default release
// configuration from the first commissioning-capable resource, for keys not
// already set.
func (i *Importer) setGlobalDefaultReleases(ctx context.Context) error {
	_, haveCommissioning, err := i.controlPlane.ConfigGet(sources.ConfigCommissioningSeries)
	if err != nil {
		return err
	}
	_, haveDefault, err := i.controlPlane.ConfigGet(sources.ConfigDefaultSeries)
	if err != nil {
		return err
	}
	if haveCommissioning && haveDefault {
		return nil
	}

	var first *Resource
	err = i.store.WithTransaction(ctx, func(tx Tx) error {
		commissioning, err := tx.CommissioningResources()
		if err != nil {
			return err
		}
		if len(commissioning) > 0 {
			first = commissioning[0]
		}
		return nil
	})
	if err != nil || first == nil {
		return err
	}

	osystem, release, ok := strings.Cut(first.Name, "/")
	if !ok {
		return nil
	}
	if !haveCommissioning {
		if err := i.controlPlane.ConfigSet(sources.ConfigCommissioningOSystem, osystem); err != nil {
			return err
		}
		if err := i.controlPlane.ConfigSet(sources.ConfigCommissioningSeries, release); err != nil {
			return err
		}
	}
	if !haveDefault {
		if err := i.controlPlane.ConfigSet(sources.ConfigDefaultOSystem, osystem); err != nil {
			return err
		}
		if err := i.controlPlane.ConfigSet(sources.ConfigDefaultSeries, release); err != nil {
			return err
		}
	}
	return nil
}
