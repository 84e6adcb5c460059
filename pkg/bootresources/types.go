package bootresources

import (
	"fmt"
	"strings"
)

// ResourceType classifies how a boot resource came to exist in the region.
type ResourceType int

const (
	// TypeSynced resources are mirrored from an upstream simplestreams
	// source.
	TypeSynced ResourceType = iota

	// TypeGenerated resources were built by the region itself.
	TypeGenerated

	// TypeUploaded resources were uploaded by an operator.
	TypeUploaded
)

func (t ResourceType) String() string {
	switch t {
	case TypeSynced:
		return "synced"
	case TypeGenerated:
		return "generated"
	case TypeUploaded:
		return "uploaded"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Filetype enumerates the artifact kinds a resource set may carry. The
// values are the upstream ftype strings.
type Filetype string

const (
	FiletypeRootTgz       Filetype = "root-tgz"
	FiletypeRootDD        Filetype = "root-dd"
	FiletypeRootImage     Filetype = "root-image.gz"
	FiletypeSquashfsImage Filetype = "squashfs"
	FiletypeBootKernel    Filetype = "boot-kernel"
	FiletypeBootInitrd    Filetype = "boot-initrd"
	FiletypeBootDTB       Filetype = "boot-dtb"
)

// knownFiletypes is the set of filetypes the import pipeline stores; anything
// else in an upstream catalog is skipped.
var knownFiletypes = map[Filetype]bool{
	FiletypeRootTgz:       true,
	FiletypeRootDD:        true,
	FiletypeRootImage:     true,
	FiletypeSquashfsImage: true,
	FiletypeBootKernel:    true,
	FiletypeBootInitrd:    true,
	FiletypeBootDTB:       true,
}

// KnownFiletype reports whether the pipeline stores artifacts of this type.
func KnownFiletype(t Filetype) bool {
	return knownFiletypes[t]
}

// Resource is a named OS artifact family.
//
// For synced and generated resources Name is "<os>/<series>"; for uploaded
// resources it is a freeform series name. Architecture is always
// "<arch>/<subarch>".
type Resource struct {
	ID           int64
	RType        ResourceType
	Name         string
	Architecture string

	// Extra carries upstream passthrough data (kflavor, subarches).
	Extra map[string]string
}

// SplitArch returns the architecture and sub-architecture halves.
func (r *Resource) SplitArch() (arch, subarch string) {
	arch, subarch, _ = strings.Cut(r.Architecture, "/")
	return arch, subarch
}

// ResourceSet is a dated revision of a resource. Version is the upstream
// version name, unique per resource.
type ResourceSet struct {
	ID         int64
	ResourceID int64
	Version    string
	Label      string
}

// File is one artifact within a resource set, always backed by exactly one
// large file.
type File struct {
	ID          int64
	SetID       int64
	Filename    string
	Filetype    Filetype
	LargeFileID int64

	// Extra carries upstream passthrough data (kpackage, di_version).
	Extra map[string]string
}

// LargeFile is a deduplicated blob descriptor. Size is the byte count
// recorded by the last committed write; the blob is complete when
// Size == TotalSize.
type LargeFile struct {
	ID        int64
	SHA256    string
	TotalSize int64
	Size      int64
}

// Complete reports whether the backing blob has been fully written.
func (l *LargeFile) Complete() bool {
	return l.Size == l.TotalSize
}
