package simplestreams

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathFromMirrorURL(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantMirror string
		wantPath   string
	}{
		{
			name:       "bare mirror root",
			url:        "http://images.maas.io/ephemeral-v2/releases/",
			wantMirror: "http://images.maas.io/ephemeral-v2/releases",
			wantPath:   DefaultIndexPath,
		},
		{
			name:       "explicit index document",
			url:        "http://images.maas.io/ephemeral-v2/releases/streams/v1/index.sjson",
			wantMirror: "http://images.maas.io/ephemeral-v2/releases",
			wantPath:   "streams/v1/index.sjson",
		},
		{
			name:       "explicit products document",
			url:        "http://example.com/mirror/streams/v1/com.ubuntu.maas:v2:download.json",
			wantMirror: "http://example.com/mirror",
			wantPath:   "streams/v1/com.ubuntu.maas:v2:download.json",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mirror, path := PathFromMirrorURL(tt.url)
			assert.Equal(t, tt.wantMirror, mirror)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

const sampleProducts = `{
	"format": "products:1.0",
	"content_id": "com.ubuntu.maas:v2:download",
	"datatype": "image-downloads",
	"updated": "Tue, 20 Apr 2021 00:00:00 +0000",
	"license": "CC",
	"products": {
		"com.ubuntu.maas:boot:focal:amd64": {
			"os": "ubuntu",
			"arch": "amd64",
			"subarch": "generic",
			"release": "focal",
			"label": "release",
			"versions": {
				"20210420": {
					"items": {
						"squashfs": {
							"ftype": "squashfs",
							"path": "focal/amd64/20210420/squashfs",
							"sha256": "abc123",
							"size": 123456
						}
					}
				},
				"20210301": {
					"items": {
						"squashfs": {
							"ftype": "squashfs",
							"path": "focal/amd64/20210301/squashfs",
							"sha256": "def456",
							"size": 123000
						}
					}
				}
			}
		}
	}
}`

func TestProductsUnmarshalSplitsLevels(t *testing.T) {
	var products Products
	require.NoError(t, json.Unmarshal([]byte(sampleProducts), &products))

	assert.Equal(t, FormatProducts, products.Format)
	assert.Equal(t, "com.ubuntu.maas:v2:download", products.ContentID)
	assert.Equal(t, "image-downloads", products.DataType)
	assert.Equal(t, "CC", products.Data["license"])

	tree := products.Products["com.ubuntu.maas:boot:focal:amd64"]
	require.NotNil(t, tree)
	assert.Equal(t, "ubuntu", tree.Data["os"])
	assert.Len(t, tree.Versions, 2)

	item := tree.Versions["20210420"].Items["squashfs"]
	assert.Equal(t, "squashfs", item["ftype"])
}

func TestProductsExdataFlattensAndOverrides(t *testing.T) {
	var products Products
	require.NoError(t, json.Unmarshal([]byte(sampleProducts), &products))

	data := ProductsExdata(&products, Pedigree{
		Product: "com.ubuntu.maas:boot:focal:amd64",
		Version: "20210420",
		Item:    "squashfs",
	})

	assert.Equal(t, "CC", data.GetString("license"))
	assert.Equal(t, "ubuntu", data.GetString("os"))
	assert.Equal(t, "focal", data.GetString("release"))
	assert.Equal(t, "squashfs", data.GetString("ftype"))
	assert.Equal(t, "20210420", data.GetString("version_name"))
	assert.Equal(t, "com.ubuntu.maas:boot:focal:amd64", data.GetString("product_name"))

	size, err := data.GetInt64("size")
	require.NoError(t, err)
	assert.Equal(t, int64(123456), size)
}

func TestItemChecksums(t *testing.T) {
	sums := ItemChecksums(ExData{"sha256": "abc", "md5": "def", "path": "x"})
	assert.Equal(t, map[string]string{"sha256": "abc", "md5": "def"}, sums)
}

func TestSortedVersionNamesNewestFirst(t *testing.T) {
	tree := &ProductTree{Versions: map[string]*VersionTree{
		"20210301": {},
		"20210420": {},
		"20200101": {},
	}}
	assert.Equal(t, []string{"20210420", "20210301", "20200101"}, SortedVersionNames(tree))
}

func TestExDataGetInt64AcceptsStrings(t *testing.T) {
	size, err := ExData{"size": "4096"}.GetInt64("size")
	require.NoError(t, err)
	assert.Equal(t, int64(4096), size)

	_, err = ExData{"size": "not-a-number"}.GetInt64("size")
	assert.Error(t, err)

	_, err = ExData{}.GetInt64("size")
	assert.Error(t, err)
}
