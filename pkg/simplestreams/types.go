package simplestreams

import (
	"encoding/json"
	"fmt"
)

// Document format identifiers.
const (
	FormatIndex    = "index:1.0"
	FormatProducts = "products:1.0"
)

// Index represents an index:1.0 document.
type Index struct {
	Format  string                `json:"format"`
	Updated string                `json:"updated,omitempty"`
	Index   map[string]IndexEntry `json:"index"`
}

// IndexEntry describes one product stream within an index document.
type IndexEntry struct {
	DataType string   `json:"datatype"`
	Path     string   `json:"path"`
	Updated  string   `json:"updated,omitempty"`
	Products []string `json:"products"`
	Format   string   `json:"format"`
}

// Item is the leaf of a product stream: one downloadable file.
type Item map[string]any

// VersionTree holds the items of one dated product version plus any
// version-level metadata.
type VersionTree struct {
	Items map[string]Item
	Data  map[string]any
}

// ProductTree holds the versions of one product plus product-level metadata.
type ProductTree struct {
	Versions map[string]*VersionTree
	Data     map[string]any
}

// Products represents a products:1.0 document.
type Products struct {
	Format    string
	ContentID string
	DataType  string
	Updated   string
	Products  map[string]*ProductTree
	Data      map[string]any
}

// Pedigree names one item in a product stream: product name, version name,
// item name.
type Pedigree struct {
	Product string
	Version string
	Item    string
}

func (p Pedigree) String() string {
	return fmt.Sprintf("%s/%s/%s", p.Product, p.Version, p.Item)
}

// ExData is the flattened view of an item: the item fields merged over its
// version, product, and stream level data, exactly as products_exdata builds
// it when walking a stream.
type ExData map[string]any

// GetString returns the value for key as a string, or "" when absent or not
// a string.
func (d ExData) GetString(key string) string {
	v, ok := d[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// GetInt64 returns the value for key as an int64. JSON numbers decode as
// float64; string values are accepted too since some mirrors emit sizes as
// strings.
func (d ExData) GetInt64(key string) (int64, error) {
	v, ok := d[key]
	if !ok {
		return 0, fmt.Errorf("missing key %q", key)
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		var parsed int64
		if _, err := fmt.Sscanf(n, "%d", &parsed); err != nil {
			return 0, fmt.Errorf("non-numeric value for key %q: %q", key, n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("non-numeric value for key %q: %T", key, v)
	}
}

// Structural keys of a products document; everything else at each level is
// carried as metadata.
var productStructKeys = map[string]bool{"versions": true}
var versionStructKeys = map[string]bool{"items": true}

// UnmarshalJSON decodes a products:1.0 document, splitting structural keys
// from carried metadata at every level of the tree.
func (p *Products) UnmarshalJSON(raw []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return err
	}

	p.Products = make(map[string]*ProductTree)
	p.Data = make(map[string]any)

	for key, val := range top {
		switch key {
		case "format":
			if err := json.Unmarshal(val, &p.Format); err != nil {
				return fmt.Errorf("invalid format field: %w", err)
			}
		case "content_id":
			if err := json.Unmarshal(val, &p.ContentID); err != nil {
				return fmt.Errorf("invalid content_id field: %w", err)
			}
		case "datatype":
			if err := json.Unmarshal(val, &p.DataType); err != nil {
				return fmt.Errorf("invalid datatype field: %w", err)
			}
		case "updated":
			if err := json.Unmarshal(val, &p.Updated); err != nil {
				return fmt.Errorf("invalid updated field: %w", err)
			}
		case "products":
			var prods map[string]json.RawMessage
			if err := json.Unmarshal(val, &prods); err != nil {
				return fmt.Errorf("invalid products field: %w", err)
			}
			for name, prodRaw := range prods {
				tree, err := unmarshalProductTree(prodRaw)
				if err != nil {
					return fmt.Errorf("product %q: %w", name, err)
				}
				p.Products[name] = tree
			}
		default:
			var v any
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			p.Data[key] = v
		}
	}

	if p.Format != FormatProducts {
		return fmt.Errorf("unsupported products format %q", p.Format)
	}
	return nil
}

func unmarshalProductTree(raw json.RawMessage) (*ProductTree, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	tree := &ProductTree{
		Versions: make(map[string]*VersionTree),
		Data:     make(map[string]any),
	}
	for key, val := range fields {
		if !productStructKeys[key] {
			var v any
			if err := json.Unmarshal(val, &v); err != nil {
				return nil, err
			}
			tree.Data[key] = v
			continue
		}

		var versions map[string]json.RawMessage
		if err := json.Unmarshal(val, &versions); err != nil {
			return nil, fmt.Errorf("invalid versions field: %w", err)
		}
		for name, verRaw := range versions {
			ver, err := unmarshalVersionTree(verRaw)
			if err != nil {
				return nil, fmt.Errorf("version %q: %w", name, err)
			}
			tree.Versions[name] = ver
		}
	}
	return tree, nil
}

func unmarshalVersionTree(raw json.RawMessage) (*VersionTree, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	ver := &VersionTree{
		Items: make(map[string]Item),
		Data:  make(map[string]any),
	}
	for key, val := range fields {
		if !versionStructKeys[key] {
			var v any
			if err := json.Unmarshal(val, &v); err != nil {
				return nil, err
			}
			ver.Data[key] = v
			continue
		}

		if err := json.Unmarshal(val, &ver.Items); err != nil {
			return nil, fmt.Errorf("invalid items field: %w", err)
		}
	}
	return ver, nil
}
