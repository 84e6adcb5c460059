package memory

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/git-habz/maas/pkg/bootresources"
)

func TestStore_LargeFileDeduplication(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.WithTransaction(ctx, func(tx bootresources.Tx) error {
		lf, err := tx.CreateLargeFile("abc123", 10)
		if err != nil {
			return err
		}
		found, err := tx.FindLargeFileBySHA256("abc123")
		if err != nil {
			return err
		}
		if found.ID != lf.ID {
			t.Errorf("FindLargeFileBySHA256 returned id %d, want %d", found.ID, lf.ID)
		}
		_, err = tx.FindLargeFileBySHA256("missing")
		if !errors.Is(err, bootresources.ErrNotFound) {
			t.Errorf("FindLargeFileBySHA256 for missing digest returned %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}
}

func TestStore_BlobWriteAndRead(t *testing.T) {
	ctx := context.Background()
	s := New()

	var largeFileID int64
	err := s.WithTransaction(ctx, func(tx bootresources.Tx) error {
		lf, err := tx.CreateLargeFile("digest", 11)
		largeFileID = lf.ID
		return err
	})
	if err != nil {
		t.Fatalf("CreateLargeFile failed: %v", err)
	}

	w, err := s.OpenLargeObjectWrite(ctx, largeFileID)
	if err != nil {
		t.Fatalf("OpenLargeObjectWrite failed: %v", err)
	}
	if _, err := w.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	r, err := s.OpenLargeObjectRead(ctx, largeFileID)
	if err != nil {
		t.Fatalf("OpenLargeObjectRead failed: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("read %q, want %q", data, "hello world")
	}

	err = s.WithTransaction(ctx, func(tx bootresources.Tx) error {
		lf, err := tx.GetLargeFile(largeFileID)
		if err != nil {
			return err
		}
		if lf.Size != 11 {
			t.Errorf("large file size = %d, want 11", lf.Size)
		}
		if !lf.Complete() {
			t.Error("large file should be complete after commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}
}

func TestStore_AbortedWriteLeavesBlobIncomplete(t *testing.T) {
	ctx := context.Background()
	s := New()

	var largeFileID int64
	err := s.WithTransaction(ctx, func(tx bootresources.Tx) error {
		lf, err := tx.CreateLargeFile("digest", 5)
		largeFileID = lf.ID
		return err
	})
	if err != nil {
		t.Fatalf("CreateLargeFile failed: %v", err)
	}

	w, err := s.OpenLargeObjectWrite(ctx, largeFileID)
	if err != nil {
		t.Fatalf("OpenLargeObjectWrite failed: %v", err)
	}
	if _, err := w.Write([]byte("abc")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	err = s.WithTransaction(ctx, func(tx bootresources.Tx) error {
		lf, err := tx.GetLargeFile(largeFileID)
		if err != nil {
			return err
		}
		if lf.Complete() {
			t.Error("large file should be incomplete after abort")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}
}

func TestStore_DeleteFileReclaimsLastReference(t *testing.T) {
	ctx := context.Background()
	s := New()

	resource := s.SeedResource(bootresources.Resource{
		RType: bootresources.TypeSynced, Name: "ubuntu/focal", Architecture: "amd64/generic"})
	set := s.SeedSet(bootresources.ResourceSet{ResourceID: resource.ID, Version: "v1"})
	lf := s.SeedLargeFile(bootresources.LargeFile{SHA256: "abc", TotalSize: 3}, []byte("abc"))
	fileA := s.SeedFile(bootresources.File{
		SetID: set.ID, Filename: "a", Filetype: bootresources.FiletypeRootTgz, LargeFileID: lf.ID})
	fileB := s.SeedFile(bootresources.File{
		SetID: set.ID, Filename: "b", Filetype: bootresources.FiletypeRootTgz, LargeFileID: lf.ID})

	err := s.WithTransaction(ctx, func(tx bootresources.Tx) error {
		// Two references: deleting one keeps the large file.
		if err := tx.DeleteFile(fileA.ID); err != nil {
			return err
		}
		if _, err := tx.GetLargeFile(lf.ID); err != nil {
			t.Errorf("large file reclaimed while still referenced: %v", err)
		}
		// Last reference: the large file goes with it.
		if err := tx.DeleteFile(fileB.ID); err != nil {
			return err
		}
		if _, err := tx.GetLargeFile(lf.ID); !errors.Is(err, bootresources.ErrNotFound) {
			t.Errorf("GetLargeFile after last delete returned %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}
}

func TestStore_ImportLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := New()

	unlock, err := s.TryImportLock(ctx)
	if err != nil {
		t.Fatalf("TryImportLock failed: %v", err)
	}

	if _, err := s.TryImportLock(ctx); !errors.Is(err, bootresources.ErrLockNotHeld) {
		t.Errorf("second TryImportLock returned %v, want ErrLockNotHeld", err)
	}

	held, err := s.ImportLockHeld(ctx)
	if err != nil || !held {
		t.Errorf("ImportLockHeld = %v, %v; want true, nil", held, err)
	}

	unlock.Unlock()
	held, err = s.ImportLockHeld(ctx)
	if err != nil || held {
		t.Errorf("ImportLockHeld after unlock = %v, %v; want false, nil", held, err)
	}

	if _, err := s.TryImportLock(ctx); err != nil {
		t.Errorf("TryImportLock after unlock failed: %v", err)
	}
}
