package memory

import (
	"bytes"

	"github.com/git-habz/maas/pkg/bootresources"
)

// Seeding helpers for tests that need state the import pipeline cannot
// produce, such as generated or uploaded resources.

// SeedResource inserts a resource with the exact given type, returning it
// with its assigned id.
func (s *Store) SeedResource(r bootresources.Resource) *bootresources.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.allocID()
	if r.Extra == nil {
		r.Extra = map[string]string{}
	}
	stored := r
	s.resources[stored.ID] = &stored
	return &stored
}

// SeedSet inserts a resource set.
func (s *Store) SeedSet(set bootresources.ResourceSet) *bootresources.ResourceSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	set.ID = s.allocID()
	stored := set
	s.sets[stored.ID] = &stored
	return &stored
}

// SeedFile inserts a file row.
func (s *Store) SeedFile(f bootresources.File) *bootresources.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = s.allocID()
	if f.Extra == nil {
		f.Extra = map[string]string{}
	}
	stored := f
	s.files[stored.ID] = &stored
	return &stored
}

// SeedLargeFile inserts a large file together with its blob content. The
// recorded size is the content length, so a seeded blob whose declared
// total matches is complete.
func (s *Store) SeedLargeFile(lf bootresources.LargeFile, content []byte) *bootresources.LargeFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	lf.ID = s.allocID()
	lf.Size = int64(len(content))
	stored := lf
	s.largeFiles[stored.ID] = &stored
	s.blobs[stored.ID] = bytes.NewBuffer(append([]byte(nil), content...))
	return &stored
}

// Counts returns how many resources, sets, files, and large files the store
// holds. Used by tests asserting reconciliation outcomes.
func (s *Store) Counts() (resources, sets, files, largeFiles int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resources), len(s.sets), len(s.files), len(s.largeFiles)
}

// BlobContent returns a copy of a blob's bytes.
func (s *Store) BlobContent(largeFileID int64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[largeFileID]
	if !ok {
		return nil
	}
	return append([]byte(nil), blob.Bytes()...)
}
