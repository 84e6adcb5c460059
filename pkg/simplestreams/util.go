package simplestreams

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// DefaultIndexPath is the catalog entry point used when a mirror URL does not
// name a document.
const DefaultIndexPath = "streams/v1/index.json"

// checksumKeys are the item keys that carry content digests.
var checksumKeys = []string{"sha256", "sha512", "md5"}

// Timestamp returns the current time formatted the way simplestreams
// documents carry their `updated` field.
func Timestamp() string {
	return time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 -0700")
}

// DumpData serialises a document for emission. Keys are sorted so emitted
// catalogs are stable across runs.
func DumpData(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ItemChecksums extracts the digest fields from a flattened item.
func ItemChecksums(item ExData) map[string]string {
	sums := make(map[string]string)
	for _, key := range checksumKeys {
		if v := item.GetString(key); v != "" {
			sums[key] = v
		}
	}
	return sums
}

// PathFromMirrorURL splits a mirror URL into the mirror root and the relative
// path of the document to start from. A URL that ends in a .json or .sjson
// document keeps that document as the path; anything else gets the default
// index path.
func PathFromMirrorURL(mirrorURL string) (mirror string, path string) {
	trimmed := strings.TrimRight(mirrorURL, "/")
	if strings.HasSuffix(trimmed, ".json") || strings.HasSuffix(trimmed, ".sjson") {
		idx := strings.Index(trimmed, "/streams/")
		if idx >= 0 {
			return trimmed[:idx], trimmed[idx+1:]
		}
		slash := strings.LastIndex(trimmed, "/")
		return trimmed[:slash], trimmed[slash+1:]
	}
	return trimmed, DefaultIndexPath
}

// ProductsExdata flattens one item of a product stream: stream-level data,
// then product data, then version data, then the item itself, later levels
// overriding earlier ones. The pedigree names are carried along as
// product_name, version_name, and item_name.
func ProductsExdata(src *Products, pedigree Pedigree) ExData {
	out := make(ExData)

	for k, v := range src.Data {
		out[k] = v
	}
	product, ok := src.Products[pedigree.Product]
	if ok {
		for k, v := range product.Data {
			out[k] = v
		}
		if version, ok := product.Versions[pedigree.Version]; ok {
			for k, v := range version.Data {
				out[k] = v
			}
			if item, ok := version.Items[pedigree.Item]; ok {
				for k, v := range item {
					out[k] = v
				}
			}
		}
	}

	out["product_name"] = pedigree.Product
	out["version_name"] = pedigree.Version
	out["item_name"] = pedigree.Item
	return out
}

// SortedVersionNames returns the version names of a product tree sorted
// newest first. Version names are dated strings (e.g. "20210420"), so
// lexicographic order is chronological order.
func SortedVersionNames(tree *ProductTree) []string {
	names := make([]string, 0, len(tree.Versions))
	for name := range tree.Versions {
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names
}
