package sources

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/git-habz/maas/internal/logger"
)

// SourceConfig is a boot source resolved for one import run: its mirror URL,
// an on-disk keyring path, and the selections filtering what it offers.
type SourceConfig struct {
	URL         string
	KeyringPath string
	Selections  []BootSourceSelection
}

// WriteAllKeyrings materializes every source's keyring into dir and returns
// the resolved source configs. Sources carrying keyring data get a file
// written under dir; sources naming a keyring file use it as-is. The caller
// owns dir and removes it when the run ends.
func WriteAllKeyrings(dir string, srcs []*BootSource) ([]SourceConfig, error) {
	out := make([]SourceConfig, 0, len(srcs))
	for i, src := range srcs {
		cfg := SourceConfig{
			URL:         src.URL,
			KeyringPath: src.KeyringFilename,
			Selections:  src.Selections,
		}
		if len(src.KeyringData) > 0 {
			path := filepath.Join(dir, fmt.Sprintf("keyring-%d.gpg", i))
			if err := os.WriteFile(path, src.KeyringData, 0o600); err != nil {
				return nil, fmt.Errorf("writing keyring for %s: %w", src.URL, err)
			}
			cfg.KeyringPath = path
		}
		if cfg.KeyringPath == "" {
			logger.Warn("Boot source has no keyring, signatures will not be verified",
				logger.SourceURL(src.URL))
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Matches reports whether any selection of the source wants the image.
// A source with no selections wants nothing.
func (c *SourceConfig) Matches(os, release, arch, subarch, label string) bool {
	for i := range c.Selections {
		if c.Selections[i].Matches(os, release, arch, subarch, label) {
			return true
		}
	}
	return false
}
