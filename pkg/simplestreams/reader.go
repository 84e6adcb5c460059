package simplestreams

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Reader fetches catalog documents from one mirror root, applying a signing
// policy to every document it reads.
type Reader struct {
	mirror    string
	policy    SigningPolicy
	userAgent string
	client    *http.Client
}

// ReaderOption customises a Reader.
type ReaderOption func(*Reader)

// WithHTTPClient replaces the HTTP client used for catalog and content
// fetches.
func WithHTTPClient(client *http.Client) ReaderOption {
	return func(r *Reader) {
		r.client = client
	}
}

// NewReader creates a mirror reader rooted at the given URL.
func NewReader(mirror string, policy SigningPolicy, userAgent string, opts ...ReaderOption) *Reader {
	r := &Reader{
		mirror:    mirror,
		policy:    policy,
		userAgent: userAgent,
		client:    &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mirror returns the mirror root URL.
func (r *Reader) Mirror() string {
	return r.mirror
}

// fetch retrieves one document, applies the signing policy, and returns the
// payload bytes.
func (r *Reader) fetch(ctx context.Context, path string) ([]byte, error) {
	full, err := joinURL(r.mirror, path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog URL %q: %w", full, err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", full, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", full, resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", full, err)
	}
	if r.policy == nil {
		return raw, nil
	}
	return r.policy(raw, path)
}

// ReadIndex fetches and decodes an index:1.0 document.
func (r *Reader) ReadIndex(ctx context.Context, path string) (*Index, error) {
	payload, err := r.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	var index Index
	if err := json.Unmarshal(payload, &index); err != nil {
		return nil, fmt.Errorf("decoding index %s: %w", path, err)
	}
	if index.Format != FormatIndex {
		return nil, fmt.Errorf("unsupported index format %q at %s", index.Format, path)
	}
	return &index, nil
}

// ReadProducts fetches and decodes a products:1.0 document.
func (r *Reader) ReadProducts(ctx context.Context, path string) (*Products, error) {
	payload, err := r.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	var products Products
	if err := json.Unmarshal(payload, &products); err != nil {
		return nil, fmt.Errorf("decoding products %s: %w", path, err)
	}
	return &products, nil
}

// Source returns a lazy content source for an item path relative to the
// mirror root. No bytes move until the caller reads.
func (r *Reader) Source(ctx context.Context, path string) (ContentSource, error) {
	full, err := joinURL(r.mirror, path)
	if err != nil {
		return nil, err
	}
	return NewURLContentSource(ctx, r.client, full), nil
}
