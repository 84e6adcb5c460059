package rackrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HTTPClient talks to one rack controller's region-facing API.
type HTTPClient struct {
	ident   string
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a rack client for the given base URL.
func NewHTTPClient(ident, baseURL string) *HTTPClient {
	return &HTTPClient{
		ident:   ident,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// Ident names the rack.
func (c *HTTPClient) Ident() string {
	return c.ident
}

type listImagesResponse struct {
	Images []BootImage `json:"images"`
}

func (c *HTTPClient) getImages(ctx context.Context, path string) ([]BootImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rack %s: %w", c.ident, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNotImplemented:
		// Older racks do not serve this command at all.
		return nil, ErrUnhandledCommand
	default:
		return nil, fmt.Errorf("rack %s: unexpected status %s", c.ident, resp.Status)
	}
	var body listImagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("rack %s: decoding image list: %w", c.ident, err)
	}
	return body.Images, nil
}

// ListBootImagesV2 returns the rack's local images.
func (c *HTTPClient) ListBootImagesV2(ctx context.Context) ([]BootImage, error) {
	return c.getImages(ctx, "/rpc/v2/boot-images")
}

// ListBootImages is the legacy image listing.
func (c *HTTPClient) ListBootImages(ctx context.Context) ([]BootImage, error) {
	return c.getImages(ctx, "/rpc/v1/boot-images")
}

// ImportBootImages asks the rack to pull images from the sources.
func (c *HTTPClient) ImportBootImages(ctx context.Context, sources []ImportSource) error {
	payload, err := json.Marshal(map[string]any{"sources": sources})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/rpc/v2/import-boot-images", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("rack %s: %w", c.ident, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("rack %s: unexpected status %s", c.ident, resp.Status)
	}
	return nil
}

// Registry is a ClientProvider tracking the currently-connected racks.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry creates an empty rack registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register adds (or replaces) a connected rack.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	r.clients[c.Ident()] = c
	r.mu.Unlock()
}

// Unregister drops a rack that went away.
func (r *Registry) Unregister(ident string) {
	r.mu.Lock()
	delete(r.clients, ident)
	r.mu.Unlock()
}

// AllClients returns the currently-connected racks.
func (r *Registry) AllClients() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}
