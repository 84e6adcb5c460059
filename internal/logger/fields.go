package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation
// and querying.
const (
	// ========================================================================
	// Boot resources
	// ========================================================================
	KeyOS       = "os"       // Operating system: ubuntu, centos, custom
	KeyArch     = "arch"     // Architecture: amd64, arm64
	KeySubarch  = "subarch"  // Sub-architecture: generic, hwe-x
	KeySeries   = "series"   // Release series: focal, jammy
	KeyVersion  = "version"  // Resource set version name
	KeyLabel    = "label"    // Resource set label: release, daily
	KeyFilename = "filename" // Resource file name
	KeyFiletype = "filetype" // Resource file type
	KeyResource = "resource" // Resource identity os/arch/subarch/series

	// ========================================================================
	// Blobs
	// ========================================================================
	KeySHA256 = "sha256" // Content digest
	KeySize   = "size"   // Declared size in bytes

	// ========================================================================
	// Import pipeline
	// ========================================================================
	KeySourceURL = "source_url" // Upstream simplestreams source URL
	KeySources   = "sources"    // Number of upstream sources
	KeyQueued    = "queued"     // Files queued for byte writing
	KeyDeletions = "deletions"  // Resources queued for deletion
	KeyWorkers   = "workers"    // Writer pool size
	KeyRunID     = "run_id"     // Import run identifier

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyError      = "error"       // Error message
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// OS returns a slog.Attr for an operating system name
func OS(os string) slog.Attr {
	return slog.String(KeyOS, os)
}

// Arch returns a slog.Attr for an architecture
func Arch(arch string) slog.Attr {
	return slog.String(KeyArch, arch)
}

// Series returns a slog.Attr for a release series
func Series(series string) slog.Attr {
	return slog.String(KeySeries, series)
}

// Version returns a slog.Attr for a resource set version
func Version(version string) slog.Attr {
	return slog.String(KeyVersion, version)
}

// Filename returns a slog.Attr for a resource file name
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// Resource returns a slog.Attr for a resource identity
func Resource(ident string) slog.Attr {
	return slog.String(KeyResource, ident)
}

// SHA256 returns a slog.Attr for a content digest
func SHA256(digest string) slog.Attr {
	return slog.String(KeySHA256, digest)
}

// Size returns a slog.Attr for a byte size
func Size(size int64) slog.Attr {
	return slog.Int64(KeySize, size)
}

// SourceURL returns a slog.Attr for an upstream source URL
func SourceURL(url string) slog.Attr {
	return slog.String(KeySourceURL, url)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
