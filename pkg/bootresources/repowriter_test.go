package bootresources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-habz/maas/pkg/bootresources/memory"
	"github.com/git-habz/maas/pkg/simplestreams"
)

// buildStream assembles a products document with one pedigree holding the
// given items.
func buildStream(productName, versionName string, items map[string]simplestreams.Item) *simplestreams.Products {
	return &simplestreams.Products{
		Format:    simplestreams.FormatProducts,
		ContentID: "com.ubuntu.maas:v2:download",
		Products: map[string]*simplestreams.ProductTree{
			productName: {
				Data: map[string]any{
					"os":      "ubuntu",
					"arch":    "amd64",
					"subarch": "generic",
					"release": "focal",
					"label":   "release",
				},
				Versions: map[string]*simplestreams.VersionTree{
					versionName: {Items: items, Data: map[string]any{}},
				},
			},
		},
		Data: map[string]any{},
	}
}

func wantEverything() *simplestreams.ProductMapping {
	mapping := simplestreams.NewProductMapping()
	mapping.Add(simplestreams.ExData{
		"os": "ubuntu", "arch": "amd64", "subarch": "generic",
		"release": "focal", "label": "release",
	})
	return mapping
}

func insertStreamItem(t *testing.T, w *repoWriter, src *simplestreams.Products, productName, versionName, itemName string, data []byte) {
	t.Helper()
	pedigree := simplestreams.Pedigree{Product: productName, Version: versionName, Item: itemName}
	exdata := simplestreams.ProductsExdata(src, pedigree)
	require.True(t, w.FilterVersion(exdata, src,
		simplestreams.Pedigree{Product: productName, Version: versionName}))
	require.NoError(t, w.InsertItem(context.Background(), exdata, src, pedigree, newFakeContent(data)))
}

func TestRepoWriterElectsSquashfsOverRootImage(t *testing.T) {
	store := memory.New()
	rs, err := newResourceStore(context.Background(), store)
	require.NoError(t, err)
	w := newRepoWriter(rs, wantEverything())

	squashfs := []byte("squashfs-bytes")
	rootImage := []byte("root-image-bytes")
	src := buildStream("com.ubuntu.maas:boot:focal:amd64", "20210420", map[string]simplestreams.Item{
		"squashfs": {
			"ftype": "squashfs", "path": "focal/squashfs",
			"sha256": digestOf(squashfs), "size": float64(len(squashfs)),
		},
		"root-image.gz": {
			"ftype": "root-image.gz", "path": "focal/root-image.gz",
			"sha256": digestOf(rootImage), "size": float64(len(rootImage)),
		},
	})

	insertStreamItem(t, w, src, "com.ubuntu.maas:boot:focal:amd64", "20210420", "squashfs", squashfs)
	insertStreamItem(t, w, src, "com.ubuntu.maas:boot:focal:amd64", "20210420", "root-image.gz", rootImage)
	require.NoError(t, rs.Finalize(context.Background()))

	err = store.WithTransaction(context.Background(), func(tx Tx) error {
		r, err := tx.GetResource([]ResourceType{TypeSynced}, "ubuntu/focal", "amd64/generic")
		require.NoError(t, err)
		set, err := tx.LatestCompleteSet(r.ID)
		require.NoError(t, err)
		files, err := tx.FilesForSet(set.ID)
		require.NoError(t, err)
		require.Len(t, files, 1, "only the squashfs variant is stored")
		assert.Equal(t, FiletypeSquashfsImage, files[0].Filetype)
		return nil
	})
	require.NoError(t, err)
}

func TestRepoWriterKeepsRootImageWithoutSquashfs(t *testing.T) {
	store := memory.New()
	rs, err := newResourceStore(context.Background(), store)
	require.NoError(t, err)
	w := newRepoWriter(rs, wantEverything())

	rootImage := []byte("root-image-bytes")
	src := buildStream("com.ubuntu.maas:boot:focal:amd64", "20210420", map[string]simplestreams.Item{
		"root-image.gz": {
			"ftype": "root-image.gz", "path": "focal/root-image.gz",
			"sha256": digestOf(rootImage), "size": float64(len(rootImage)),
		},
	})
	insertStreamItem(t, w, src, "com.ubuntu.maas:boot:focal:amd64", "20210420", "root-image.gz", rootImage)
	require.NoError(t, rs.Finalize(context.Background()))

	_, _, files, _ := store.Counts()
	assert.Equal(t, 1, files)
}

func TestRepoWriterSkipsUnknownFiletypes(t *testing.T) {
	store := memory.New()
	rs, err := newResourceStore(context.Background(), store)
	require.NoError(t, err)
	w := newRepoWriter(rs, wantEverything())

	payload := []byte("mystery-bytes")
	src := buildStream("com.ubuntu.maas:boot:focal:amd64", "20210420", map[string]simplestreams.Item{
		"manifest": {
			"ftype": "manifest", "path": "focal/manifest",
			"sha256": digestOf(payload), "size": float64(len(payload)),
		},
	})
	pedigree := simplestreams.Pedigree{
		Product: "com.ubuntu.maas:boot:focal:amd64", Version: "20210420", Item: "manifest"}
	exdata := simplestreams.ProductsExdata(src, pedigree)
	require.NoError(t, w.InsertItem(context.Background(), exdata, src, pedigree, newFakeContent(payload)))

	resources, _, _, _ := store.Counts()
	assert.Zero(t, resources)
}

func TestRepoWriterFiltersUnwantedPedigrees(t *testing.T) {
	store := memory.New()
	rs, err := newResourceStore(context.Background(), store)
	require.NoError(t, err)

	mapping := simplestreams.NewProductMapping()
	mapping.Add(simplestreams.ExData{
		"os": "ubuntu", "arch": "arm64", "subarch": "generic",
		"release": "focal", "label": "release",
	})
	w := newRepoWriter(rs, mapping)

	src := buildStream("com.ubuntu.maas:boot:focal:amd64", "20210420", nil)
	exdata := simplestreams.ProductsExdata(src, simplestreams.Pedigree{
		Product: "com.ubuntu.maas:boot:focal:amd64", Version: "20210420"})
	assert.False(t, w.FilterVersion(exdata, src, simplestreams.Pedigree{
		Product: "com.ubuntu.maas:boot:focal:amd64", Version: "20210420"}))
}
