package bootresources

import (
	"fmt"
	"strings"
)

// OSCustom is the external operating-system name uploaded resources are
// published under.
const OSCustom = "custom"

// ResourceIdentifiers returns the external (os, arch, subarch, series)
// identity of a resource. Uploaded resources publish as os "custom" with
// their name as the series.
func ResourceIdentifiers(r *Resource) (os, arch, subarch, series string) {
	arch, subarch = r.SplitArch()
	if r.RType == TypeUploaded {
		return OSCustom, arch, subarch, r.Name
	}
	os, series, _ = strings.Cut(r.Name, "/")
	return os, arch, subarch, series
}

// ResourceIdentity returns the "<os>/<arch>/<subarch>/<series>" identity
// string the reconciler keys on.
func ResourceIdentity(r *Resource) string {
	os, arch, subarch, series := ResourceIdentifiers(r)
	return fmt.Sprintf("%s/%s/%s/%s", os, arch, subarch, series)
}

// ProductName returns the downstream catalog product name for a resource.
func ProductName(r *Resource) string {
	os, arch, subarch, series := ResourceIdentifiers(r)
	return fmt.Sprintf("maas:boot:%s:%s:%s:%s", os, arch, subarch, series)
}

// StorageIdentity maps an external (os, series) pair back to the stored
// resource name. The "custom" OS maps to an uploaded resource named by the
// series alone.
func StorageIdentity(os, series string) (name string) {
	if os == OSCustom {
		return series
	}
	return fmt.Sprintf("%s/%s", os, series)
}

// SplitIdentity parses a "<os>/<arch>/<subarch>/<series>" identity back into
// the stored (name, architecture) pair.
func SplitIdentity(ident string) (name, architecture string, err error) {
	parts := strings.Split(ident, "/")
	if len(parts) != 4 {
		return "", "", fmt.Errorf("malformed resource identity %q", ident)
	}
	return StorageIdentity(parts[0], parts[3]), parts[1] + "/" + parts[2], nil
}
