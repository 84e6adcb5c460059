package simplestreams

import (
	"context"
	"fmt"
)

// WriterConfig bounds what a sync pass visits.
type WriterConfig struct {
	// MaxItems limits how many versions of each product are visited, newest
	// first. Zero means all versions.
	MaxItems int
}

// Writer receives the entries of a product stream during a sync pass.
// Implementations decide what to keep; the sync loop never downloads content
// itself, it only hands over lazy sources.
type Writer interface {
	// FilterVersion decides whether one product version is wanted. The
	// pedigree names the product and version; Item is empty.
	FilterVersion(data ExData, src *Products, pedigree Pedigree) bool

	// InsertItem receives one wanted item together with a lazy content
	// source for its payload.
	InsertItem(ctx context.Context, data ExData, src *Products, pedigree Pedigree, content ContentSource) error
}

// Sync walks the catalog at path and feeds every wanted item to the writer.
// When path names an index document, every image-downloads stream in it is
// walked; when it names a products document, that stream is walked directly.
func Sync(ctx context.Context, reader *Reader, path string, w Writer, cfg WriterConfig) error {
	if isProductsPath(path) {
		products, err := reader.ReadProducts(ctx, path)
		if err != nil {
			return err
		}
		return syncProducts(ctx, reader, products, w, cfg)
	}

	index, err := reader.ReadIndex(ctx, path)
	if err != nil {
		return err
	}
	for contentID, entry := range index.Index {
		if entry.Format != FormatProducts {
			continue
		}
		products, err := reader.ReadProducts(ctx, entry.Path)
		if err != nil {
			return fmt.Errorf("stream %s: %w", contentID, err)
		}
		if err := syncProducts(ctx, reader, products, w, cfg); err != nil {
			return fmt.Errorf("stream %s: %w", contentID, err)
		}
	}
	return nil
}

func isProductsPath(path string) bool {
	// Index documents are always named index.json/index.sjson; anything else
	// under streams/ is a products document.
	base := path
	if idx := lastSlash(path); idx >= 0 {
		base = path[idx+1:]
	}
	return base != "index.json" && base != "index.sjson"
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

func syncProducts(ctx context.Context, reader *Reader, src *Products, w Writer, cfg WriterConfig) error {
	for productName, tree := range src.Products {
		versions := SortedVersionNames(tree)
		if cfg.MaxItems > 0 && len(versions) > cfg.MaxItems {
			versions = versions[:cfg.MaxItems]
		}
		for _, versionName := range versions {
			pedigree := Pedigree{Product: productName, Version: versionName}
			data := ProductsExdata(src, pedigree)
			if !w.FilterVersion(data, src, pedigree) {
				continue
			}
			version := tree.Versions[versionName]
			for itemName, item := range version.Items {
				if err := ctx.Err(); err != nil {
					return err
				}
				itemPedigree := Pedigree{Product: productName, Version: versionName, Item: itemName}
				itemData := ProductsExdata(src, itemPedigree)

				itemPath, _ := item["path"].(string)
				var content ContentSource
				if itemPath != "" {
					var err error
					content, err = reader.Source(ctx, itemPath)
					if err != nil {
						return fmt.Errorf("item %s: %w", itemPedigree, err)
					}
				}
				if err := w.InsertItem(ctx, itemData, src, itemPedigree, content); err != nil {
					return fmt.Errorf("item %s: %w", itemPedigree, err)
				}
			}
		}
	}
	return nil
}
