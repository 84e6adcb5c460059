package simplestreams

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ContentSource is a lazily-opened byte stream for one catalog item. Opening
// is deferred until the first Read so that a sync pass over metadata does not
// start any payload downloads.
type ContentSource interface {
	io.ReadCloser

	// URL returns the absolute location of the content.
	URL() string
}

// urlContentSource fetches content over HTTP on first read.
type urlContentSource struct {
	url    string
	client *http.Client
	ctx    context.Context

	body io.ReadCloser
}

// NewURLContentSource returns a ContentSource that will GET the given URL on
// first read. The context bounds the whole download, not only the dial.
func NewURLContentSource(ctx context.Context, client *http.Client, rawURL string) ContentSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &urlContentSource{url: rawURL, client: client, ctx: ctx}
}

func (s *urlContentSource) open() error {
	if s.body != nil {
		return nil
	}
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("invalid content URL %q: %w", s.url, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", s.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("fetching %s: unexpected status %s", s.url, resp.Status)
	}
	s.body = resp.Body
	return nil
}

func (s *urlContentSource) Read(p []byte) (int, error) {
	if err := s.open(); err != nil {
		return 0, err
	}
	return s.body.Read(p)
}

func (s *urlContentSource) Close() error {
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}

func (s *urlContentSource) URL() string {
	return s.url
}

// joinURL resolves a relative document path against a mirror root.
func joinURL(mirror, path string) (string, error) {
	base, err := url.Parse(mirror + "/")
	if err != nil {
		return "", fmt.Errorf("invalid mirror URL %q: %w", mirror, err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	return base.ResolveReference(ref).String(), nil
}
