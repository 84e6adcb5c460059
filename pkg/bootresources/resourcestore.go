package bootresources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/git-habz/maas/internal/logger"
	"github.com/git-habz/maas/pkg/simplestreams"
)

// defaultWriteWorkers bounds how many blob writers run at once. Raising it
// raises simultaneous network and database fan-out.
const defaultWriteWorkers = 2

// ErrSafetyGateTripped is returned by Finalize when a sync pass produced no
// overlapping inserts and no queued writes. That state is indistinguishable
// from a silently broken upstream, so finalization aborts rather than delete
// every synced resource.
var ErrSafetyGateTripped = errors.New("finalization aborted: sync produced no inserts")

// writeJob is one queued blob write.
type writeJob struct {
	fileID  int64
	ident   string
	sha256  string
	content simplestreams.ContentSource
}

// resourceStore materializes upstream catalog entries into the store.
//
// Metadata lands first: each Insert runs one transaction that records the
// resource, set, and file rows. Content comes later: Finalize first removes
// resources the upstream no longer offers, then drains the queued byte writes
// through a bounded worker pool, then trims obsolete sets. Sets stay
// incomplete, and therefore unpublished,
// until their bytes are written and verified.
type resourceStore struct {
	store   Store
	workers int

	mu                sync.Mutex
	resourcesToDelete map[string]struct{}
	initToDelete      map[string]struct{}
	contentToFinalize []writeJob
}

// newResourceStore snapshots the currently-synced resources. Every identity
// still present at finalize time is deleted; Insert removes the identities
// the upstream still offers.
func newResourceStore(ctx context.Context, store Store) (*resourceStore, error) {
	s := &resourceStore{
		store:             store,
		workers:           defaultWriteWorkers,
		resourcesToDelete: make(map[string]struct{}),
		initToDelete:      make(map[string]struct{}),
	}
	err := store.WithTransaction(ctx, func(tx Tx) error {
		synced, err := tx.SyncedResources()
		if err != nil {
			return err
		}
		for _, r := range synced {
			ident := ResourceIdentity(r)
			s.resourcesToDelete[ident] = struct{}{}
			s.initToDelete[ident] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("caching current resources: %w", err)
	}
	return s, nil
}

// preventResourceDeletion keeps a just-seen resource out of reconciliation.
func (s *resourceStore) preventResourceDeletion(ident string) {
	s.mu.Lock()
	delete(s.resourcesToDelete, ident)
	s.mu.Unlock()
}

// saveContentLater queues a blob write for the finalize pass.
func (s *resourceStore) saveContentLater(job writeJob) {
	s.mu.Lock()
	s.contentToFinalize = append(s.contentToFinalize, job)
	s.mu.Unlock()
}

func (s *resourceStore) queuedWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contentToFinalize)
}

// Insert records one catalog entry's metadata in a single transaction. The
// entry's bytes, when needed, are queued for the finalize pass.
func (s *resourceStore) Insert(ctx context.Context, p Product, content simplestreams.ContentSource) error {
	var queued *writeJob

	err := s.store.WithTransaction(ctx, func(tx Tx) error {
		resource, err := tx.GetOrCreateResource(p)
		if err != nil {
			return fmt.Errorf("resource %s %s: %w", p.Name(), p.Architecture(), err)
		}
		ident := ResourceIdentity(resource)
		s.preventResourceDeletion(ident)

		wasComplete := true
		if _, err := tx.LatestCompleteSet(resource.ID); err != nil {
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			wasComplete = false
		}

		set, err := tx.GetOrCreateSet(resource.ID, p.VersionName, p.Label)
		if err != nil {
			return fmt.Errorf("set %s: %w", p.VersionName, err)
		}

		// For synced resources the filename equals the filetype; that is
		// how the upstream publishes them.
		filename := string(p.Ftype)
		file, err := tx.GetFileByName(set.ID, filename)
		if errors.Is(err, ErrNotFound) {
			file = &File{SetID: set.ID, Filename: filename}
		} else if err != nil {
			return err
		}
		file.Filetype = p.Ftype
		file.Extra = p.FileExtra()

		var prevLargeFile *LargeFile
		var largeFile *LargeFile
		if file.LargeFileID != 0 {
			largeFile, err = tx.GetLargeFile(file.LargeFileID)
			if err != nil {
				return err
			}
			if largeFile.SHA256 != p.SHA256 {
				// The upstream content changed under the same version. Hold
				// the stale large file so it can be reclaimed once the file
				// row points elsewhere.
				logger.Warn("Hash mismatch for resource file",
					logger.Resource(ident),
					logger.Version(set.Version),
					logger.Filename(filename))
				prevLargeFile = largeFile
				largeFile = nil
			}
		}

		if largeFile == nil {
			largeFile, err = tx.FindLargeFileBySHA256(p.SHA256)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}

		needsSaving := false
		if largeFile == nil {
			largeFile, err = tx.CreateLargeFile(p.SHA256, p.Size)
			if err != nil {
				return fmt.Errorf("large file %s: %w", p.SHA256, err)
			}
			needsSaving = true
			logger.Debug("New large file created", logger.SHA256(p.SHA256), logger.Size(p.Size))
		}

		file.LargeFileID = largeFile.ID
		if err := tx.SaveFile(file); err != nil {
			return fmt.Errorf("file %s: %w", filename, err)
		}

		if wasComplete {
			if _, err := tx.LatestCompleteSet(resource.ID); errors.Is(err, ErrNotFound) {
				logger.Error("Resource has no complete resource set", logger.Resource(ident))
			} else if err != nil {
				return err
			}
		}

		if prevLargeFile != nil {
			// The file row no longer references it, so the stale blob can
			// drop out when this was the last reference.
			if err := tx.DeleteLargeFileIfUnreferenced(prevLargeFile.ID); err != nil {
				return err
			}
		}

		fileIdent := fmt.Sprintf("%s/%s/%s", ident, set.Version, filename)
		if needsSaving {
			queued = &writeJob{fileID: file.ID, ident: fileIdent, sha256: p.SHA256, content: content}
		} else {
			logger.Debug("Boot image already up-to-date", logger.Resource(fileIdent))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if queued != nil {
		s.saveContentLater(*queued)
	} else if content != nil {
		content.Close()
	}
	return nil
}

// writeContent streams one queued job into the blob store, verifying the
// digest as it goes. A mismatch deletes the file row; the import carries on.
func (s *resourceStore) writeContent(ctx context.Context, job writeJob) {
	defer job.content.Close()

	var largeFileID int64
	err := s.store.WithTransaction(ctx, func(tx Tx) error {
		file, err := tx.GetFile(job.fileID)
		if err != nil {
			return err
		}
		largeFileID = file.LargeFileID
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		// The file was reconciled away before its bytes arrived.
		return
	}
	if err != nil {
		logger.Error("Failed to load boot image file for writing",
			logger.Resource(job.ident), logger.Err(err))
		return
	}

	logger.Debug("Finalizing boot image", logger.Resource(job.ident))

	sink, err := s.store.OpenLargeObjectWrite(ctx, largeFileID)
	if err != nil {
		logger.Error("Failed to open large object for writing",
			logger.Resource(job.ident), logger.Err(err))
		return
	}

	hasher := sha256.New()
	buf := make([]byte, s.store.BlockSize())
	for {
		n, readErr := job.content.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
			if _, err := sink.Write(buf[:n]); err != nil {
				sink.Abort()
				logger.Error("Failed writing boot image content",
					logger.Resource(job.ident), logger.Err(err))
				return
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			sink.Abort()
			logger.Error("Failed reading boot image content",
				logger.Resource(job.ident), logger.Err(readErr))
			return
		}
	}

	computed := hex.EncodeToString(hasher.Sum(nil))
	if computed != job.sha256 {
		sink.Abort()
		checksumMismatches.Inc()
		logger.Error("Failed to finalize boot image, checksum mismatch",
			logger.Resource(job.ident),
			"expected", job.sha256,
			"found", computed)
		if err := s.store.WithTransaction(ctx, func(tx Tx) error {
			return tx.DeleteFile(job.fileID)
		}); err != nil {
			logger.Error("Failed to delete corrupt boot image file",
				logger.Resource(job.ident), logger.Err(err))
		}
		return
	}

	if err := sink.Commit(); err != nil {
		logger.Error("Failed to commit boot image content",
			logger.Resource(job.ident), logger.Err(err))
		return
	}
	filesWritten.Inc()
	logger.Debug("Finalized boot image", logger.Resource(job.ident))
}

// performWrite drains the queue through a bounded pool: one worker per
// queued file, at most `workers` at a time, joined before return.
func (s *resourceStore) performWrite(ctx context.Context) {
	s.mu.Lock()
	jobs := s.contentToFinalize
	s.contentToFinalize = nil
	s.mu.Unlock()

	if len(jobs) == 0 {
		return
	}

	queue := make(chan writeJob)
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				s.writeContent(ctx, job)
			}
		}()
	}
	for _, job := range jobs {
		queue <- job
	}
	close(queue)
	wg.Wait()
}

// resourceCleaner deletes the synced resources the upstream no longer
// offers.
func (s *resourceStore) resourceCleaner(ctx context.Context) error {
	s.mu.Lock()
	idents := make([]string, 0, len(s.resourcesToDelete))
	for ident := range s.resourcesToDelete {
		idents = append(idents, ident)
	}
	s.mu.Unlock()

	return s.store.WithTransaction(ctx, func(tx Tx) error {
		for _, ident := range idents {
			name, architecture, err := SplitIdentity(ident)
			if err != nil {
				return err
			}
			resource, err := tx.GetResource([]ResourceType{TypeSynced}, name, architecture)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			logger.Debug("Deleting boot image", logger.Resource(ident))
			if err := tx.DeleteResource(resource.ID); err != nil {
				return fmt.Errorf("deleting resource %s: %w", ident, err)
			}
		}
		return nil
	})
}

// resourceSetCleaner removes incomplete sets and all but the newest complete
// set of every synced resource, then drops resources left with no sets.
func (s *resourceStore) resourceSetCleaner(ctx context.Context) error {
	return s.store.WithTransaction(ctx, func(tx Tx) error {
		synced, err := tx.SyncedResources()
		if err != nil {
			return err
		}
		for _, resource := range synced {
			sets, err := tx.SetsForResource(resource.ID)
			if err != nil {
				return err
			}
			foundComplete := false
			for _, set := range sets {
				complete, err := tx.SetComplete(set.ID)
				if err != nil {
					return err
				}
				switch {
				case !complete:
					logger.Debug("Deleting incomplete resource set",
						logger.Resource(ResourceIdentity(resource)),
						logger.Version(set.Version))
					err = tx.DeleteSet(set.ID)
				case !foundComplete:
					foundComplete = true
				default:
					logger.Debug("Deleting obsolete resource set",
						logger.Resource(ResourceIdentity(resource)),
						logger.Version(set.Version))
					err = tx.DeleteSet(set.ID)
				}
				if err != nil {
					return err
				}
			}
		}

		// A resource whose every set was just removed serves nothing.
		synced, err = tx.SyncedResources()
		if err != nil {
			return err
		}
		for _, resource := range synced {
			sets, err := tx.SetsForResource(resource.ID)
			if err != nil {
				return err
			}
			if len(sets) == 0 {
				logger.Debug("Deleting empty resource",
					logger.Resource(ResourceIdentity(resource)))
				if err := tx.DeleteResource(resource.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// sameAsSnapshot reports whether no insert overlapped the snapshot.
func (s *resourceStore) sameAsSnapshot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.resourcesToDelete) != len(s.initToDelete) {
		return false
	}
	for ident := range s.resourcesToDelete {
		if _, ok := s.initToDelete[ident]; !ok {
			return false
		}
	}
	return true
}

// Finalize reconciles deletions, writes the queued content, and trims
// obsolete sets, in that order. The deletion pass completes before any
// writer starts so no writer races a deleter for the same rows.
func (s *resourceStore) Finalize(ctx context.Context) error {
	s.mu.Lock()
	deletions, queued := len(s.resourcesToDelete), len(s.contentToFinalize)
	s.mu.Unlock()

	logger.Debug("Finalize will delete images", logger.KeyDeletions, deletions)
	logger.Debug("Finalize will save new images", logger.KeyQueued, queued)

	// A sync that inserted nothing and overlapped nothing looks exactly
	// like a broken upstream. Deleting every synced resource on that
	// evidence would strand all provisioning, so refuse.
	if s.sameAsSnapshot() && queued == 0 {
		logger.Error("Finalization of imported images skipped, "+
			"all synced images would be deleted", logger.KeyDeletions, deletions)
		return ErrSafetyGateTripped
	}

	if err := s.resourceCleaner(ctx); err != nil {
		return fmt.Errorf("resource cleaner: %w", err)
	}
	s.performWrite(ctx)
	if err := s.resourceSetCleaner(ctx); err != nil {
		return fmt.Errorf("resource set cleaner: %w", err)
	}
	return nil
}
