// Package sources persists the region's boot-source definitions, global
// configuration settings, and persistent component warnings.
package sources

import (
	"strings"
	"time"
)

// BootSource is one upstream simplestreams source the region mirrors from.
type BootSource struct {
	ID        uint      `gorm:"primarykey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	// URL is the simplestreams mirror URL.
	URL string `gorm:"uniqueIndex;not null"`

	// KeyringFilename points at an on-disk keyring. Mutually exclusive
	// with KeyringData.
	KeyringFilename string

	// KeyringData is an uploaded keyring, staged to disk for each run.
	KeyringData []byte

	Selections []BootSourceSelection `gorm:"foreignKey:BootSourceID;constraint:OnDelete:CASCADE"`
}

// BootSourceSelection narrows what a source offers to what the region wants.
// List fields are comma-separated; "*" or an empty field matches anything.
type BootSourceSelection struct {
	ID           uint `gorm:"primarykey"`
	BootSourceID uint `gorm:"index;not null"`

	OS        string
	Release   string
	Arches    string
	Subarches string
	Labels    string
}

// ConfigSetting is one global configuration key/value row.
type ConfigSetting struct {
	ID    uint   `gorm:"primarykey"`
	Name  string `gorm:"uniqueIndex;not null"`
	Value string
}

// ComponentError is a persistent warning shown until its component clears
// it.
type ComponentError struct {
	ID        uint      `gorm:"primarykey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	Component string `gorm:"uniqueIndex;not null"`
	Error     string
}

// splitList splits a comma-separated selection field.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// matchesList reports whether value is covered by a selection list field.
func matchesList(field, value string) bool {
	list := splitList(field)
	if len(list) == 0 {
		return true
	}
	for _, entry := range list {
		if entry == "*" || entry == value {
			return true
		}
	}
	return false
}

// Matches reports whether an image with the given identity is wanted by this
// selection.
func (s *BootSourceSelection) Matches(os, release, arch, subarch, label string) bool {
	if s.OS != "" && s.OS != os {
		return false
	}
	if s.Release != "" && s.Release != release {
		return false
	}
	return matchesList(s.Arches, arch) &&
		matchesList(s.Subarches, subarch) &&
		matchesList(s.Labels, label)
}
