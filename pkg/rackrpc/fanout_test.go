package rackrpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type scriptedClient struct {
	ident    string
	v2Images []BootImage
	v2Err    error
	v1Images []BootImage
	v1Err    error

	imported bool
}

func (c *scriptedClient) Ident() string { return c.ident }
func (c *scriptedClient) ListBootImagesV2(context.Context) ([]BootImage, error) {
	return c.v2Images, c.v2Err
}
func (c *scriptedClient) ListBootImages(context.Context) ([]BootImage, error) {
	return c.v1Images, c.v1Err
}
func (c *scriptedClient) ImportBootImages(context.Context, []ImportSource) error {
	c.imported = true
	return nil
}

type staticProvider struct {
	clients []Client
}

func (p *staticProvider) AllClients() []Client { return p.clients }

func TestAnyRackHasImages(t *testing.T) {
	tests := []struct {
		name    string
		clients []Client
		want    bool
	}{
		{
			name: "no racks connected",
			want: false,
		},
		{
			name: "rack with images",
			clients: []Client{
				&scriptedClient{ident: "a", v2Images: []BootImage{{OSystem: "ubuntu"}}},
			},
			want: true,
		},
		{
			name: "rack without images",
			clients: []Client{
				&scriptedClient{ident: "a"},
			},
			want: false,
		},
		{
			name: "unreachable rack counts as imageless",
			clients: []Client{
				&scriptedClient{ident: "a", v2Err: errors.New("connection refused")},
			},
			want: false,
		},
		{
			name: "legacy rack answers via fallback",
			clients: []Client{
				&scriptedClient{
					ident: "a",
					v2Err: ErrUnhandledCommand,
					v1Images: []BootImage{
						{OSystem: "ubuntu", Release: "focal"},
					},
				},
			},
			want: true,
		},
		{
			name: "fallback only on unhandled command",
			clients: []Client{
				&scriptedClient{
					ident:    "a",
					v2Err:    errors.New("boom"),
					v1Images: []BootImage{{OSystem: "ubuntu"}},
				},
			},
			want: false,
		},
		{
			name: "one of many racks has images",
			clients: []Client{
				&scriptedClient{ident: "a"},
				&scriptedClient{ident: "b", v2Images: []BootImage{{OSystem: "ubuntu"}}},
				&scriptedClient{ident: "c", v2Err: errors.New("connection refused")},
			},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnyRackHasImages(context.Background(),
				&staticProvider{clients: tt.clients}, time.Second)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImporterFansOutToEveryRack(t *testing.T) {
	a := &scriptedClient{ident: "a"}
	b := &scriptedClient{ident: "b"}
	provider := &staticProvider{clients: []Client{a, b}}

	importer := NewImporter(provider, []ImportSource{{URL: "http://region.example/images-stream/"}})
	importer.Run(context.Background())

	assert.True(t, a.imported)
	assert.True(t, b.imported)
}
