package bootresources

import (
	"context"
	"fmt"

	"github.com/git-habz/maas/internal/logger"
	"github.com/git-habz/maas/pkg/simplestreams"
)

// repoWriter adapts an upstream product stream to the resource store. It
// keeps only the product versions the region asked for, and within a version
// elects which artifact variants to store.
type repoWriter struct {
	store   *resourceStore
	mapping *simplestreams.ProductMapping
}

// syncConfig limits a sync pass to the latest version of each product.
// Without it every historical version would be downloaded.
var syncConfig = simplestreams.WriterConfig{MaxItems: 1}

func newRepoWriter(store *resourceStore, mapping *simplestreams.ProductMapping) *repoWriter {
	return &repoWriter{store: store, mapping: mapping}
}

// FilterVersion keeps the product versions named by the region's product
// mapping.
func (w *repoWriter) FilterVersion(data simplestreams.ExData, _ *simplestreams.Products, _ simplestreams.Pedigree) bool {
	return w.mapping.Contains(data)
}

// InsertItem stores one catalog item's metadata, skipping variants the
// region does not keep.
func (w *repoWriter) InsertItem(ctx context.Context, data simplestreams.ExData, src *simplestreams.Products, pedigree simplestreams.Pedigree, content simplestreams.ContentSource) error {
	ftype := Filetype(data.GetString("ftype"))

	if ftype == FiletypeRootImage && versionHasSquashfs(src, pedigree) {
		// When both a SquashFS and a root-image.gz are offered under one
		// version, only the SquashFS is stored.
		if content != nil {
			content.Close()
		}
		return nil
	}
	if !KnownFiletype(ftype) {
		logger.Debug("Skipping unknown boot image filetype",
			logger.KeyFiletype, string(ftype), logger.KeyResource, pedigree.String())
		if content != nil {
			content.Close()
		}
		return nil
	}

	product, err := productFromExdata(data)
	if err != nil {
		return fmt.Errorf("entry %s: %w", pedigree, err)
	}
	return w.store.Insert(ctx, product, content)
}

// versionHasSquashfs reports whether the pedigree's version also offers a
// SquashFS item.
func versionHasSquashfs(src *simplestreams.Products, pedigree simplestreams.Pedigree) bool {
	tree, ok := src.Products[pedigree.Product]
	if !ok {
		return false
	}
	version, ok := tree.Versions[pedigree.Version]
	if !ok {
		return false
	}
	for _, item := range version.Items {
		if ftype, _ := item["ftype"].(string); ftype == string(FiletypeSquashfsImage) {
			return true
		}
	}
	return false
}

// productFromExdata maps a flattened catalog entry to the catalog model's
// product. Streams that predate the os field carry ubuntu images.
func productFromExdata(data simplestreams.ExData) (Product, error) {
	os := data.GetString("os")
	if os == "" {
		os = "ubuntu"
	}
	size, err := data.GetInt64("size")
	if err != nil {
		return Product{}, fmt.Errorf("invalid size: %w", err)
	}
	sums := simplestreams.ItemChecksums(data)
	sha := sums["sha256"]
	if sha == "" {
		return Product{}, fmt.Errorf("missing sha256 checksum")
	}
	return Product{
		OS:          os,
		Arch:        data.GetString("arch"),
		Subarch:     data.GetString("subarch"),
		Release:     data.GetString("release"),
		VersionName: data.GetString("version_name"),
		Label:       data.GetString("label"),
		Ftype:       Filetype(data.GetString("ftype")),
		SHA256:      sha,
		Size:        size,
		KFlavor:     data.GetString("kflavor"),
		Subarches:   data.GetString("subarches"),
		KPackage:    data.GetString("kpackage"),
		DIVersion:   data.GetString("di_version"),
	}, nil
}
