package bootresources

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/git-habz/maas/internal/logger"
	"github.com/git-habz/maas/pkg/simplestreams"
)

// URLPrefix is where the simplestreams endpoint is mounted. The access
// middleware is told about it so rack controllers can fetch anonymously.
const URLPrefix = "/images-stream/"

// DownloadContentID names the one product stream the region republishes.
const DownloadContentID = "maas:v2:download"

// Handler serves the region's simplestreams endpoint: the catalog documents
// plus the boot resource content itself.
//
// Only resources holding a complete set are published; the import pipeline
// flips completeness on exclusively after a verified write, so the endpoint
// can run concurrently with imports.
type Handler struct {
	store Store
}

// NewHandler creates the simplestreams endpoint handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// Routes returns the endpoint's router, for mounting at URLPrefix.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/streams/v1/{filename}", h.serveStream)
	r.Get("/{os}/{arch}/{subarch}/{series}/{version}/{filename}", h.serveFile)
	return r
}

// serveStream handles requests into the "streams/" catalog documents.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "filename") {
	case "index.json":
		h.serveProductIndex(w, r)
	case DownloadContentID + ".json":
		h.serveProductDownload(w, r)
	default:
		http.NotFound(w, r)
	}
}

// completeResources returns every resource that holds a complete set.
func completeResources(tx Tx) ([]*Resource, error) {
	all, err := tx.AllResources()
	if err != nil {
		return nil, err
	}
	var out []*Resource
	for _, resource := range all {
		if _, err := tx.LatestCompleteSet(resource.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, resource)
	}
	return out, nil
}

func (h *Handler) serveProductIndex(w http.ResponseWriter, r *http.Request) {
	var products []string
	err := h.store.WithTransaction(r.Context(), func(tx Tx) error {
		complete, err := completeResources(tx)
		if err != nil {
			return err
		}
		products = make([]string, 0, len(complete))
		for _, resource := range complete {
			products = append(products, ProductName(resource))
		}
		return nil
	})
	if err != nil {
		serverError(w, "building product index", err)
		return
	}

	updated := simplestreams.Timestamp()
	index := simplestreams.Index{
		Format:  simplestreams.FormatIndex,
		Updated: updated,
		Index: map[string]simplestreams.IndexEntry{
			DownloadContentID: {
				DataType: "image-downloads",
				Path:     "streams/v1/" + DownloadContentID + ".json",
				Updated:  updated,
				Products: products,
				Format:   simplestreams.FormatProducts,
			},
		},
	}
	data, err := simplestreams.DumpData(index)
	if err != nil {
		serverError(w, "serialising product index", err)
		return
	}
	logger.Debug("Simplestreams product index", "index", string(data))
	writeJSON(w, data)
}

func (h *Handler) serveProductDownload(w http.ResponseWriter, r *http.Request) {
	products := make(map[string]any)
	err := h.store.WithTransaction(r.Context(), func(tx Tx) error {
		complete, err := completeResources(tx)
		if err != nil {
			return err
		}
		for _, resource := range complete {
			data, err := h.productData(tx, resource)
			if err != nil {
				return err
			}
			products[ProductName(resource)] = data
		}
		return nil
	})
	if err != nil {
		serverError(w, "building product download", err)
		return
	}

	doc := map[string]any{
		"datatype":   "image-downloads",
		"updated":    simplestreams.Timestamp(),
		"content_id": DownloadContentID,
		"products":   products,
		"format":     simplestreams.FormatProducts,
	}
	data, err := simplestreams.DumpData(doc)
	if err != nil {
		serverError(w, "serialising product download", err)
		return
	}
	writeJSON(w, data)
}

// productData builds the download document entry for one resource: every
// complete set keyed by version, labelled after the newest complete set.
func (h *Handler) productData(tx Tx, resource *Resource) (map[string]any, error) {
	os, arch, subarch, series := ResourceIdentifiers(resource)

	versions := make(map[string]any)
	var label string
	labelSet := false

	sets, err := tx.SetsForResource(resource.ID)
	if err != nil {
		return nil, err
	}
	for _, set := range sets {
		complete, err := tx.SetComplete(set.ID)
		if err != nil {
			return nil, err
		}
		if !complete {
			continue
		}
		// The label follows the newest complete set. It only differs
		// across sets when a resource moved between streams, e.g. release
		// to daily.
		if !labelSet {
			label = set.Label
			labelSet = true
		}
		files, err := tx.FilesForSet(set.ID)
		if err != nil {
			return nil, err
		}
		items := make(map[string]any, len(files))
		for _, file := range files {
			item, err := h.productItem(tx, resource, set, file)
			if err != nil {
				return nil, err
			}
			items[file.Filename] = item
		}
		versions[set.Version] = map[string]any{"items": items}
	}

	product := map[string]any{
		"versions": versions,
		"subarch":  subarch,
		"label":    label,
		"version":  series,
		"arch":     arch,
		"release":  series,
		"krel":     series,
		"os":       os,
	}
	for k, v := range resource.Extra {
		product[k] = v
	}
	return product, nil
}

func (h *Handler) productItem(tx Tx, resource *Resource, set *ResourceSet, file *File) (map[string]any, error) {
	largeFile, err := tx.GetLargeFile(file.LargeFileID)
	if err != nil {
		return nil, err
	}
	os, arch, subarch, series := ResourceIdentifiers(resource)
	item := map[string]any{
		"path": fmt.Sprintf("%s/%s/%s/%s/%s/%s",
			os, arch, subarch, series, set.Version, file.Filename),
		"ftype":  string(file.Filetype),
		"sha256": largeFile.SHA256,
		"size":   largeFile.TotalSize,
	}
	for k, v := range file.Extra {
		item[k] = v
	}
	return item, nil
}

// serveFile streams one boot resource file. The metadata lookup runs in a
// short transaction; the content is read on a dedicated connection whose
// lifetime matches the response, not the lookup transaction.
func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request) {
	osName := chi.URLParam(r, "os")
	series := chi.URLParam(r, "series")
	architecture := chi.URLParam(r, "arch") + "/" + chi.URLParam(r, "subarch")
	version := chi.URLParam(r, "version")
	filename := chi.URLParam(r, "filename")

	name := StorageIdentity(osName, series)

	var largeFile *LargeFile
	err := h.store.WithTransaction(r.Context(), func(tx Tx) error {
		resource, err := tx.GetResource(
			[]ResourceType{TypeSynced, TypeGenerated, TypeUploaded}, name, architecture)
		if err != nil {
			return err
		}
		set, err := tx.GetSetByVersion(resource.ID, version)
		if err != nil {
			return err
		}
		file, err := tx.GetFileByName(set.ID, filename)
		if err != nil {
			return err
		}
		largeFile, err = tx.GetLargeFile(file.LargeFileID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		serverError(w, "resolving boot image file", err)
		return
	}

	content, err := h.store.OpenLargeObjectRead(r.Context(), largeFile.ID)
	if err != nil {
		serverError(w, "opening boot image content", err)
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(largeFile.TotalSize, 10))

	buf := make([]byte, h.store.BlockSize())
	n, err := io.CopyBuffer(w, content, buf)
	streamedBytes.Add(float64(n))
	if err != nil {
		// The peer went away or the read failed; either way the response
		// is unusable, so just note it.
		logger.Debug("Boot image stream ended early",
			logger.Filename(filename), logger.Err(err))
	}
}

func writeJSON(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(append(data, '\n'))
}

func serverError(w http.ResponseWriter, what string, err error) {
	logger.Error("Simplestreams endpoint failure", "failure", what, logger.Err(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// Endpoint describes the region's own simplestreams endpoint, in the same
// shape boot sources use, for pointing rack controllers at the region.
type Endpoint struct {
	URL         string   `json:"url"`
	KeyringData []byte   `json:"keyring_data"`
	Selections  []string `json:"selections"`
}

// RegionEndpoint returns the endpoint descriptor for a region reachable at
// baseURL.
func RegionEndpoint(baseURL string) Endpoint {
	return Endpoint{
		URL:         strings.TrimSuffix(baseURL, "/") + URLPrefix + "streams/v1/index.json",
		KeyringData: []byte{},
		Selections:  []string{},
	}
}
