package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-habz/maas/pkg/bootresources"
	"github.com/git-habz/maas/pkg/bootresources/memory"
)

func newTestRouter(t *testing.T) *httptest.Server {
	t.Helper()
	router := NewRouter(bootresources.NewHandler(memory.New()), nil)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestRouter(t)

	for _, path := range []string{"/health", "/health/ready"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestImagesEndpointMounted(t *testing.T) {
	ts := newTestRouter(t)

	resp, err := http.Get(ts.URL + "/images-stream/streams/v1/index.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestRouter(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
