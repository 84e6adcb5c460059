package rackrpc

import (
	"context"
	"sync"
	"time"

	"github.com/git-habz/maas/internal/logger"
)

// DefaultQueryTimeout bounds how long a rack fan-out waits for answers.
const DefaultQueryTimeout = 90 * time.Second

// AnyRackHasImages asks every connected rack for its local images and
// reports whether any rack has at least one. Unreachable racks count as
// having none; the fan-out is bounded by the timeout.
func AnyRackHasImages(ctx context.Context, provider ClientProvider, timeout time.Duration) bool {
	clients := provider.AllClients()
	if len(clients) == 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(chan bool, len(clients))
	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func(c Client) {
			defer wg.Done()
			images, err := listImages(ctx, c)
			if err != nil {
				// A rack we cannot reach is treated as imageless.
				logger.Debug("Failed to list boot images on rack",
					"rack", c.Ident(), logger.Err(err))
				results <- false
				return
			}
			results <- len(images) > 0
		}(client)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for has := range results {
		if has {
			cancel()
			return true
		}
	}
	return false
}

// Importer fans an import request out to every connected rack controller.
type Importer struct {
	provider ClientProvider
	sources  []ImportSource
}

// NewImporter creates an importer that will point racks at the sources.
func NewImporter(provider ClientProvider, sources []ImportSource) *Importer {
	return &Importer{provider: provider, sources: sources}
}

// Run asks every rack to import, concurrently, and waits for the answers.
// Per-rack failures are logged, never propagated.
func (i *Importer) Run(ctx context.Context) {
	clients := i.provider.AllClients()
	if len(clients) == 0 {
		logger.Debug("No rack controllers connected, skipping image import fan-out")
		return
	}
	logger.Info("Requesting boot image import on rack controllers",
		"racks", len(clients))

	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func(c Client) {
			defer wg.Done()
			if err := c.ImportBootImages(ctx, i.sources); err != nil {
				logger.Warn("Rack controller failed to start image import",
					"rack", c.Ident(), logger.Err(err))
			}
		}(client)
	}
	wg.Wait()
}
