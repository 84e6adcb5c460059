// Package memory implements an in-memory boot-resource store. It backs unit
// tests that exercise the import pipeline and the republication endpoint
// without a PostgreSQL instance.
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/git-habz/maas/pkg/bootresources"
)

// blockSize is the chunk size advertised for blob I/O.
const blockSize = 64 * 1024

// Store is an in-memory implementation of bootresources.Store.
type Store struct {
	mu sync.Mutex

	nextID     int64
	resources  map[int64]*bootresources.Resource
	sets       map[int64]*bootresources.ResourceSet
	files      map[int64]*bootresources.File
	largeFiles map[int64]*bootresources.LargeFile
	blobs      map[int64]*bytes.Buffer

	lockHeld bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		resources:  make(map[int64]*bootresources.Resource),
		sets:       make(map[int64]*bootresources.ResourceSet),
		files:      make(map[int64]*bootresources.File),
		largeFiles: make(map[int64]*bootresources.LargeFile),
		blobs:      make(map[int64]*bytes.Buffer),
	}
}

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

// WithTransaction runs fn under the store lock. Memory transactions do not
// roll back; tests that need failure injection wrap the store instead.
func (s *Store) WithTransaction(_ context.Context, fn func(bootresources.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&tx{s: s})
}

type memUnlocker struct {
	s *Store
}

func (u *memUnlocker) Unlock() {
	u.s.mu.Lock()
	u.s.lockHeld = false
	u.s.mu.Unlock()
}

// TryImportLock acquires the singleton import lock without queueing.
func (s *Store) TryImportLock(_ context.Context) (bootresources.Unlocker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockHeld {
		return nil, bootresources.ErrLockNotHeld
	}
	s.lockHeld = true
	return &memUnlocker{s: s}, nil
}

// ImportLockHeld reports whether the import lock is held.
func (s *Store) ImportLockHeld(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockHeld, nil
}

// OpenLargeObjectRead returns a reader over a snapshot of the blob.
func (s *Store) OpenLargeObjectRead(_ context.Context, largeFileID int64) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[largeFileID]
	if !ok {
		return nil, bootresources.ErrNotFound
	}
	snapshot := make([]byte, blob.Len())
	copy(snapshot, blob.Bytes())
	return io.NopCloser(bytes.NewReader(snapshot)), nil
}

type blobWriter struct {
	s           *Store
	largeFileID int64
	buf         bytes.Buffer
	done        bool
}

func (w *blobWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *blobWriter) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	lf, ok := w.s.largeFiles[w.largeFileID]
	if !ok {
		return bootresources.ErrNotFound
	}
	w.s.blobs[w.largeFileID] = bytes.NewBuffer(w.buf.Bytes())
	lf.Size = int64(w.buf.Len())
	return nil
}

func (w *blobWriter) Abort() error {
	w.done = true
	return nil
}

// OpenLargeObjectWrite returns a writer that replaces the blob on Commit.
func (s *Store) OpenLargeObjectWrite(_ context.Context, largeFileID int64) (bootresources.BlobWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.largeFiles[largeFileID]; !ok {
		return nil, bootresources.ErrNotFound
	}
	return &blobWriter{s: s, largeFileID: largeFileID}, nil
}

// BlockSize returns the blob I/O chunk size.
func (s *Store) BlockSize() int {
	return blockSize
}

// Close is a no-op for the memory store.
func (s *Store) Close() {}

// ============================================================================
// Transaction (catalog model)
// ============================================================================

type tx struct {
	s *Store
}

func copyExtra(extra map[string]string) map[string]string {
	out := make(map[string]string, len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (t *tx) GetOrCreateResource(p bootresources.Product) (*bootresources.Resource, error) {
	name := p.Name()
	architecture := p.Architecture()
	for _, r := range t.s.resources {
		if r.Name != name || r.Architecture != architecture {
			continue
		}
		if r.RType == bootresources.TypeSynced || r.RType == bootresources.TypeGenerated {
			r.RType = bootresources.TypeSynced
			r.Extra = p.ResourceExtra()
			return r, nil
		}
	}
	r := &bootresources.Resource{
		ID:           t.s.allocID(),
		RType:        bootresources.TypeSynced,
		Name:         name,
		Architecture: architecture,
		Extra:        p.ResourceExtra(),
	}
	t.s.resources[r.ID] = r
	return r, nil
}

func (t *tx) GetResource(rtypes []bootresources.ResourceType, name, architecture string) (*bootresources.Resource, error) {
	for _, r := range t.s.resources {
		if r.Name != name || r.Architecture != architecture {
			continue
		}
		for _, rt := range rtypes {
			if r.RType == rt {
				return r, nil
			}
		}
	}
	return nil, bootresources.ErrNotFound
}

func (t *tx) sortedResources() []*bootresources.Resource {
	out := make([]*bootresources.Resource, 0, len(t.s.resources))
	for _, r := range t.s.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *tx) AllResources() ([]*bootresources.Resource, error) {
	return t.sortedResources(), nil
}

func (t *tx) SyncedResources() ([]*bootresources.Resource, error) {
	var out []*bootresources.Resource
	for _, r := range t.sortedResources() {
		if r.RType == bootresources.TypeSynced {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *tx) AnyResourcesExist() (bool, error) {
	return len(t.s.resources) > 0, nil
}

func (t *tx) AnySetsExist() (bool, error) {
	return len(t.s.sets) > 0, nil
}

func (t *tx) CommissioningResources() ([]*bootresources.Resource, error) {
	var out []*bootresources.Resource
	for _, r := range t.sortedResources() {
		if r.RType != bootresources.TypeSynced || !strings.HasPrefix(r.Name, "ubuntu/") {
			continue
		}
		if _, err := t.LatestCompleteSet(r.ID); err != nil {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

func (t *tx) DeleteResource(resourceID int64) error {
	for id, set := range t.s.sets {
		if set.ResourceID == resourceID {
			if err := t.DeleteSet(id); err != nil {
				return err
			}
		}
	}
	delete(t.s.resources, resourceID)
	return nil
}

func (t *tx) GetOrCreateSet(resourceID int64, version, label string) (*bootresources.ResourceSet, error) {
	set, err := t.GetSetByVersion(resourceID, version)
	if err == nil {
		set.Label = label
		return set, nil
	}
	set = &bootresources.ResourceSet{
		ID:         t.s.allocID(),
		ResourceID: resourceID,
		Version:    version,
		Label:      label,
	}
	t.s.sets[set.ID] = set
	return set, nil
}

func (t *tx) GetSetByVersion(resourceID int64, version string) (*bootresources.ResourceSet, error) {
	for _, set := range t.s.sets {
		if set.ResourceID == resourceID && set.Version == version {
			return set, nil
		}
	}
	return nil, bootresources.ErrNotFound
}

func (t *tx) SetsForResource(resourceID int64) ([]*bootresources.ResourceSet, error) {
	var out []*bootresources.ResourceSet
	for _, set := range t.s.sets {
		if set.ResourceID == resourceID {
			out = append(out, set)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (t *tx) LatestCompleteSet(resourceID int64) (*bootresources.ResourceSet, error) {
	sets, _ := t.SetsForResource(resourceID)
	for _, set := range sets {
		complete, err := t.SetComplete(set.ID)
		if err != nil {
			return nil, err
		}
		if complete {
			return set, nil
		}
	}
	return nil, bootresources.ErrNotFound
}

func (t *tx) SetComplete(setID int64) (bool, error) {
	files, _ := t.FilesForSet(setID)
	if len(files) == 0 {
		return false, nil
	}
	for _, f := range files {
		lf, ok := t.s.largeFiles[f.LargeFileID]
		if !ok || !lf.Complete() {
			return false, nil
		}
	}
	return true, nil
}

func (t *tx) DeleteSet(setID int64) error {
	for id, f := range t.s.files {
		if f.SetID == setID {
			if err := t.DeleteFile(id); err != nil {
				return err
			}
		}
	}
	delete(t.s.sets, setID)
	return nil
}

func (t *tx) GetFile(fileID int64) (*bootresources.File, error) {
	f, ok := t.s.files[fileID]
	if !ok {
		return nil, bootresources.ErrNotFound
	}
	return f, nil
}

func (t *tx) GetFileByName(setID int64, filename string) (*bootresources.File, error) {
	for _, f := range t.s.files {
		if f.SetID == setID && f.Filename == filename {
			return f, nil
		}
	}
	return nil, bootresources.ErrNotFound
}

func (t *tx) FilesForSet(setID int64) ([]*bootresources.File, error) {
	var out []*bootresources.File
	for _, f := range t.s.files {
		if f.SetID == setID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) SaveFile(f *bootresources.File) error {
	if f.ID == 0 {
		f.ID = t.s.allocID()
	}
	stored := *f
	stored.Extra = copyExtra(f.Extra)
	t.s.files[f.ID] = &stored
	return nil
}

func (t *tx) DeleteFile(fileID int64) error {
	f, ok := t.s.files[fileID]
	if !ok {
		return nil
	}
	delete(t.s.files, fileID)
	return t.DeleteLargeFileIfUnreferenced(f.LargeFileID)
}

func (t *tx) GetLargeFile(id int64) (*bootresources.LargeFile, error) {
	lf, ok := t.s.largeFiles[id]
	if !ok {
		return nil, bootresources.ErrNotFound
	}
	return lf, nil
}

func (t *tx) FindLargeFileBySHA256(sha256 string) (*bootresources.LargeFile, error) {
	for _, lf := range t.s.largeFiles {
		if lf.SHA256 == sha256 {
			return lf, nil
		}
	}
	return nil, bootresources.ErrNotFound
}

func (t *tx) CreateLargeFile(sha256 string, totalSize int64) (*bootresources.LargeFile, error) {
	lf := &bootresources.LargeFile{
		ID:        t.s.allocID(),
		SHA256:    sha256,
		TotalSize: totalSize,
	}
	t.s.largeFiles[lf.ID] = lf
	t.s.blobs[lf.ID] = &bytes.Buffer{}
	return lf, nil
}

func (t *tx) DeleteLargeFileIfUnreferenced(id int64) error {
	for _, f := range t.s.files {
		if f.LargeFileID == id {
			return nil
		}
	}
	delete(t.s.largeFiles, id)
	delete(t.s.blobs, id)
	return nil
}
