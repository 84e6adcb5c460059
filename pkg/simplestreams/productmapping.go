package simplestreams

// productSpec is the tuple a region selects images by.
type productSpec struct {
	os      string
	arch    string
	subarch string
	release string
	label   string
}

// ProductMapping is the declarative filter of which product versions a sync
// pass should keep: the set of (os, arch, subarch, release, label) tuples the
// region wants.
type ProductMapping struct {
	specs map[productSpec]struct{}
}

// NewProductMapping returns an empty mapping.
func NewProductMapping() *ProductMapping {
	return &ProductMapping{specs: make(map[productSpec]struct{})}
}

func specFromData(data ExData) productSpec {
	return productSpec{
		os:      data.GetString("os"),
		arch:    data.GetString("arch"),
		subarch: data.GetString("subarch"),
		release: data.GetString("release"),
		label:   data.GetString("label"),
	}
}

// Add records one wanted tuple, taken from a flattened catalog entry.
func (m *ProductMapping) Add(data ExData) {
	m.specs[specFromData(data)] = struct{}{}
}

// Contains reports whether the entry's tuple was requested.
func (m *ProductMapping) Contains(data ExData) bool {
	_, ok := m.specs[specFromData(data)]
	return ok
}

// Len returns the number of wanted tuples.
func (m *ProductMapping) Len() int {
	return len(m.specs)
}
