package bootresources

import (
	"context"
	"fmt"

	"github.com/git-habz/maas/internal/logger"
	"github.com/git-habz/maas/pkg/simplestreams"
	"github.com/git-habz/maas/pkg/sources"
)

// imageDescriptions is what a metadata-only pass over the upstream catalogs
// saw: every product version the sources offer and the region's selections
// want. It seeds the product mapping that filters the real sync.
type imageDescriptions struct {
	entries []simplestreams.ExData
}

// IsEmpty reports whether no source described any wanted image.
func (d *imageDescriptions) IsEmpty() bool {
	return len(d.entries) == 0
}

// ProductMapping builds the sync filter from the seen descriptions.
func (d *imageDescriptions) ProductMapping() *simplestreams.ProductMapping {
	mapping := simplestreams.NewProductMapping()
	for _, entry := range d.entries {
		mapping.Add(entry)
	}
	return mapping
}

// descriptionCollector is a mirror writer that records metadata and never
// touches content.
type descriptionCollector struct {
	source *sources.SourceConfig
	out    *imageDescriptions
}

func (c *descriptionCollector) FilterVersion(data simplestreams.ExData, _ *simplestreams.Products, _ simplestreams.Pedigree) bool {
	os := data.GetString("os")
	if os == "" {
		os = "ubuntu"
	}
	return c.source.Matches(os,
		data.GetString("release"),
		data.GetString("arch"),
		data.GetString("subarch"),
		data.GetString("label"))
}

func (c *descriptionCollector) InsertItem(_ context.Context, data simplestreams.ExData, _ *simplestreams.Products, _ simplestreams.Pedigree, content simplestreams.ContentSource) error {
	if content != nil {
		content.Close()
	}
	c.out.entries = append(c.out.entries, data)
	return nil
}

// downloadAllImageDescriptions reads every source's catalog, keeping the
// entries the source's selections want. Only metadata moves; content sources
// are lazy and are closed unread.
func downloadAllImageDescriptions(ctx context.Context, srcs []sources.SourceConfig, userAgent string) (*imageDescriptions, error) {
	descriptions := &imageDescriptions{}
	for i := range srcs {
		src := &srcs[i]
		mirror, path := simplestreams.PathFromMirrorURL(src.URL)
		policy := simplestreams.GetSigningPolicy(path, src.KeyringPath)
		reader := simplestreams.NewReader(mirror, policy, userAgent)

		collector := &descriptionCollector{source: src, out: descriptions}
		if err := simplestreams.Sync(ctx, reader, path, collector, syncConfig); err != nil {
			return nil, fmt.Errorf("downloading descriptions from %s: %w", src.URL, err)
		}
		logger.Debug("Downloaded image descriptions",
			logger.SourceURL(src.URL), "entries", len(descriptions.entries))
	}
	return descriptions, nil
}
