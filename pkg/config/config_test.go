package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 5248, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.NotEmpty(t, cfg.MAASURL)
	assert.Equal(t, "maas", cfg.Database.Database)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regiond.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: DEBUG
  format: json
shutdown_timeout: 45s
maas_url: http://region.example:5240/MAAS
http:
  port: 8080
import:
  upstream_timeout: 30m
  user_agent: "MAAS test"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 45*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "http://region.example:5240/MAAS", cfg.MAASURL)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Minute, cfg.Import.UpstreamTimeout)
	assert.Equal(t, "MAAS test", cfg.Import.UserAgent)

	// Unset values still get defaults.
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regiond.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: NOISY
maas_url: http://region.example/MAAS
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadURL(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.MAASURL = "not a url"
	assert.Error(t, Validate(cfg))
}
