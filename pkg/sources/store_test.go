package sources

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{Type: DatabaseTypeSQLite, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnsureDefaultDefinition(t *testing.T) {
	store := newTestStore(t)

	created, err := store.EnsureDefaultDefinition()
	require.NoError(t, err)
	assert.True(t, created)

	// Second call is a no-op.
	created, err = store.EnsureDefaultDefinition()
	require.NoError(t, err)
	assert.False(t, created)

	srcs, err := store.Sources()
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	assert.Equal(t, DefaultSourceURL, srcs[0].URL)
	assert.Equal(t, DefaultSourceKeyring, srcs[0].KeyringFilename)
	require.Len(t, srcs[0].Selections, 1)
	assert.Equal(t, "ubuntu", srcs[0].Selections[0].OS)
}

func TestConfigSettings(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.ConfigGet("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.ConfigSet("default_osystem", "ubuntu"))
	value, ok, err := store.ConfigGet("default_osystem")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ubuntu", value)

	// Replacing an existing value.
	require.NoError(t, store.ConfigSet("default_osystem", "centos"))
	value, _, err = store.ConfigGet("default_osystem")
	require.NoError(t, err)
	assert.Equal(t, "centos", value)
}

func TestConfigGetBool(t *testing.T) {
	store := newTestStore(t)

	auto, err := store.ConfigGetBool(ConfigBootImagesAutoImport, true)
	require.NoError(t, err)
	assert.True(t, auto, "unset key falls back to default")

	require.NoError(t, store.ConfigSet(ConfigBootImagesAutoImport, "false"))
	auto, err = store.ConfigGetBool(ConfigBootImagesAutoImport, true)
	require.NoError(t, err)
	assert.False(t, auto)

	require.NoError(t, store.ConfigSet(ConfigBootImagesAutoImport, "garbage"))
	auto, err = store.ConfigGetBool(ConfigBootImagesAutoImport, true)
	require.NoError(t, err)
	assert.True(t, auto, "unparsable value falls back to default")
}

func TestPersistentErrors(t *testing.T) {
	store := newTestStore(t)

	warning, err := store.PersistentError(ComponentImportPXEFiles)
	require.NoError(t, err)
	assert.Empty(t, warning)

	require.NoError(t, store.RegisterPersistentError(ComponentImportPXEFiles, "no images"))
	warning, err = store.PersistentError(ComponentImportPXEFiles)
	require.NoError(t, err)
	assert.Equal(t, "no images", warning)

	// Re-registering replaces the message.
	require.NoError(t, store.RegisterPersistentError(ComponentImportPXEFiles, "still no images"))
	warning, _ = store.PersistentError(ComponentImportPXEFiles)
	assert.Equal(t, "still no images", warning)

	require.NoError(t, store.DiscardPersistentError(ComponentImportPXEFiles))
	warning, err = store.PersistentError(ComponentImportPXEFiles)
	require.NoError(t, err)
	assert.Empty(t, warning)

	// Discarding an absent warning is fine.
	require.NoError(t, store.DiscardPersistentError(ComponentImportPXEFiles))
}

func TestSelectionMatches(t *testing.T) {
	sel := &BootSourceSelection{
		OS:        "ubuntu",
		Release:   "focal",
		Arches:    "amd64,arm64",
		Subarches: "*",
		Labels:    "release",
	}

	assert.True(t, sel.Matches("ubuntu", "focal", "amd64", "generic", "release"))
	assert.True(t, sel.Matches("ubuntu", "focal", "arm64", "hwe-20.04", "release"))
	assert.False(t, sel.Matches("ubuntu", "jammy", "amd64", "generic", "release"))
	assert.False(t, sel.Matches("ubuntu", "focal", "ppc64el", "generic", "release"))
	assert.False(t, sel.Matches("centos", "focal", "amd64", "generic", "release"))
	assert.False(t, sel.Matches("ubuntu", "focal", "amd64", "generic", "daily"))
}

func TestWriteAllKeyrings(t *testing.T) {
	dir := t.TempDir()
	srcs := []*BootSource{
		{URL: "http://one.example/", KeyringFilename: "/usr/share/keyrings/one.gpg"},
		{URL: "http://two.example/", KeyringData: []byte("binary-keyring-data")},
	}

	configs, err := WriteAllKeyrings(dir, srcs)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	// A named keyring is used as-is.
	assert.Equal(t, "/usr/share/keyrings/one.gpg", configs[0].KeyringPath)

	// Uploaded keyring data is staged under the run directory.
	assert.Equal(t, dir, filepath.Dir(configs[1].KeyringPath))
	data, err := os.ReadFile(configs[1].KeyringPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("binary-keyring-data"), data)
}
