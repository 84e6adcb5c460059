// Package rackrpc is the region's view of its rack controllers: listing the
// boot images a rack holds and asking racks to pull images from the region.
package rackrpc

import (
	"context"
	"errors"
)

// ErrUnhandledCommand is returned when a rack does not implement a command.
// Legacy racks answer the v2 image listing this way; callers fall back to
// the v1 command.
var ErrUnhandledCommand = errors.New("unhandled command")

// BootImage describes one image a rack controller holds locally.
type BootImage struct {
	OSystem         string `json:"osystem"`
	Architecture    string `json:"architecture"`
	SubArchitecture string `json:"subarchitecture"`
	Release         string `json:"release"`
	Label           string `json:"label"`
}

// ImportSource points a rack at a simplestreams endpoint to pull from.
type ImportSource struct {
	URL         string `json:"url"`
	KeyringData []byte `json:"keyring_data"`
}

// Client is one connected rack controller.
type Client interface {
	// Ident names the rack, for logs.
	Ident() string

	// ListBootImagesV2 returns the rack's local images.
	ListBootImagesV2(ctx context.Context) ([]BootImage, error)

	// ListBootImages is the legacy image listing, used when the rack
	// answers the v2 command with ErrUnhandledCommand.
	ListBootImages(ctx context.Context) ([]BootImage, error)

	// ImportBootImages asks the rack to pull images from the sources.
	ImportBootImages(ctx context.Context, sources []ImportSource) error
}

// ClientProvider yields the currently-connected rack controllers.
type ClientProvider interface {
	AllClients() []Client
}

// listImages queries one rack, transparently falling back to the legacy
// command on racks that do not speak v2.
func listImages(ctx context.Context, c Client) ([]BootImage, error) {
	images, err := c.ListBootImagesV2(ctx)
	if errors.Is(err, ErrUnhandledCommand) {
		return c.ListBootImages(ctx)
	}
	return images, err
}
