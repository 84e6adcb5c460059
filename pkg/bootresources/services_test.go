package bootresources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-habz/maas/pkg/bootresources/memory"
	"github.com/git-habz/maas/pkg/rackrpc"
	"github.com/git-habz/maas/pkg/sources"
)

func newControlPlane(t *testing.T) *sources.Store {
	t.Helper()
	store, err := sources.Open(sources.Config{
		Type: sources.DatabaseTypeSQLite,
		Path: ":memory:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// fakeRack is a rack client with scripted answers.
type fakeRack struct {
	ident     string
	v2Images  []rackrpc.BootImage
	v2Err     error
	v1Images  []rackrpc.BootImage
	v1Err     error
	importErr error
}

func (f *fakeRack) Ident() string { return f.ident }
func (f *fakeRack) ListBootImagesV2(context.Context) ([]rackrpc.BootImage, error) {
	return f.v2Images, f.v2Err
}
func (f *fakeRack) ListBootImages(context.Context) ([]rackrpc.BootImage, error) {
	return f.v1Images, f.v1Err
}
func (f *fakeRack) ImportBootImages(context.Context, []rackrpc.ImportSource) error {
	return f.importErr
}

type fakeRacks struct {
	clients []rackrpc.Client
}

func (f *fakeRacks) AllClients() []rackrpc.Client { return f.clients }

const imagesURL = "http://region.example/MAAS/images/"

func TestProgressServiceClearsWarningWhenRegionHasResources(t *testing.T) {
	store := memory.New()
	importTwoProducts(t, store)
	controlPlane := newControlPlane(t)
	require.NoError(t, controlPlane.RegisterPersistentError(
		sources.ComponentImportPXEFiles, "stale warning"))

	svc := NewImportProgressService(store, controlPlane, &fakeRacks{}, imagesURL)
	require.NoError(t, svc.checkBootImages(context.Background()))

	warning, err := controlPlane.PersistentError(sources.ComponentImportPXEFiles)
	require.NoError(t, err)
	assert.Empty(t, warning)
}

func TestProgressServiceWarnsWhenRackHasImages(t *testing.T) {
	store := memory.New()
	controlPlane := newControlPlane(t)
	racks := &fakeRacks{clients: []rackrpc.Client{
		&fakeRack{ident: "rack-1", v2Images: []rackrpc.BootImage{{OSystem: "ubuntu"}}},
	}}

	svc := NewImportProgressService(store, controlPlane, racks, imagesURL)
	require.NoError(t, svc.checkBootImages(context.Background()))

	warning, err := controlPlane.PersistentError(sources.ComponentImportPXEFiles)
	require.NoError(t, err)
	assert.Contains(t, warning, "rack controller(s) currently has boot images")
	assert.Contains(t, warning, imagesURL)
}

func TestProgressServiceWarnsWhenNothingImported(t *testing.T) {
	store := memory.New()
	controlPlane := newControlPlane(t)

	svc := NewImportProgressService(store, controlPlane, &fakeRacks{}, imagesURL)
	require.NoError(t, svc.checkBootImages(context.Background()))

	warning, err := controlPlane.PersistentError(sources.ComponentImportPXEFiles)
	require.NoError(t, err)
	assert.Contains(t, warning, "import process not started")
	assert.Contains(t, warning, imagesURL)
}

func TestProgressServiceFallsBackToLegacyRacks(t *testing.T) {
	store := memory.New()
	controlPlane := newControlPlane(t)
	racks := &fakeRacks{clients: []rackrpc.Client{
		// A legacy rack: v2 unhandled, v1 has images.
		&fakeRack{
			ident:    "rack-legacy",
			v2Err:    rackrpc.ErrUnhandledCommand,
			v1Images: []rackrpc.BootImage{{OSystem: "ubuntu"}},
		},
	}}

	svc := NewImportProgressService(store, controlPlane, racks, imagesURL)
	require.NoError(t, svc.checkBootImages(context.Background()))

	warning, err := controlPlane.PersistentError(sources.ComponentImportPXEFiles)
	require.NoError(t, err)
	assert.Contains(t, warning, "rack controller(s) currently has boot images")
}

func TestAutoImportDisabledByConfig(t *testing.T) {
	store := memory.New()
	controlPlane := newControlPlane(t)
	require.NoError(t, controlPlane.ConfigSet(sources.ConfigBootImagesAutoImport, "false"))

	svc := NewImportResourcesService(nil, store, controlPlane, false)
	auto, err := svc.shouldImport(context.Background())
	require.NoError(t, err)
	assert.False(t, auto)
}

func TestAutoImportEnabledByDefault(t *testing.T) {
	store := memory.New()
	controlPlane := newControlPlane(t)

	svc := NewImportResourcesService(nil, store, controlPlane, false)
	auto, err := svc.shouldImport(context.Background())
	require.NoError(t, err)
	assert.True(t, auto)
}

func TestAutoImportSuppressedOnFreshDevEnvironment(t *testing.T) {
	store := memory.New()
	controlPlane := newControlPlane(t)

	svc := NewImportResourcesService(nil, store, controlPlane, true)
	auto, err := svc.shouldImport(context.Background())
	require.NoError(t, err)
	assert.False(t, auto, "a dev region with no sets must not start pulling images")

	// Once anything was imported the suppression lifts.
	importTwoProducts(t, store)
	auto, err = svc.shouldImport(context.Background())
	require.NoError(t, err)
	assert.True(t, auto)
}
