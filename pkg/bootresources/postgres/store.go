// Package postgres implements the boot-resource store on PostgreSQL: the
// catalog rows live in ordinary tables, the blobs in the large-object
// facility, and the import singleton is an advisory lock.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/git-habz/maas/internal/logger"
	"github.com/git-habz/maas/pkg/bootresources"
)

// Maximum number of attempts, the first included, for a transaction that
// hits retryable errors (deadlock, serialization failure).
const maxTransactionRetries = 3

// acquireTimeout bounds connection acquisition so an exhausted pool fails
// fast instead of blocking a whole import.
const acquireTimeout = 30 * time.Second

// largeObjectBlockSize is the chunk size blob I/O uses. It is also the
// advertised block size streaming readers hand out.
const largeObjectBlockSize = 64 * 1024

// Advisory lock identity of the region-wide import singleton. The classid
// namespaces every lock this application takes; the objid names this one.
const (
	advisoryLockClass = 20120116
	importImagesLock  = 15
)

// Store implements bootresources.Store on PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config *StoreConfig
	logger *slog.Logger
}

// NewStore connects to PostgreSQL and, when configured, applies pending
// migrations.
func NewStore(ctx context.Context, cfg *StoreConfig) (*Store, error) {
	cfg.ApplyDefaults()
	log := logger.With("component", "boot_resource_store")

	pool, err := createConnectionPool(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if cfg.AutoMigrate {
		if err := RunMigrations(ctx, cfg.ConnectionString(), log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &Store{pool: pool, config: cfg, logger: log}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.logger.Info("Closing PostgreSQL connection pool")
	s.pool.Close()
}

// BlockSize is the chunk size blob I/O should use.
func (s *Store) BlockSize() int {
	return largeObjectBlockSize
}

// isRetryableError checks if a PostgreSQL error is retryable (deadlock or
// serialization failure).
func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40P01": // deadlock_detected
			return true
		case "40001": // serialization_failure
			return true
		}
	}
	return false
}

// WithTransaction executes fn within a PostgreSQL transaction.
//
// If fn returns an error, the transaction is rolled back; otherwise it is
// committed. Deadlocks and serialization failures are retried.
func (s *Store) WithTransaction(ctx context.Context, fn func(bootresources.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxTransactionRetries; attempt++ {
		acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
		conn, err := s.pool.Acquire(acquireCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("acquiring connection: %w", err)
		}

		err = func() error {
			defer conn.Release()
			tx, err := conn.Begin(ctx)
			if err != nil {
				return fmt.Errorf("beginning transaction: %w", err)
			}
			if err := fn(&pgTx{tx: tx, ctx: ctx}); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isRetryableError(err) {
			return err
		}
		lastErr = err
		s.logger.Warn("Retrying transaction after transient failure",
			"attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxTransactionRetries, lastErr)
}

// ============================================================================
// Advisory lock
// ============================================================================

type pgUnlocker struct {
	conn *pgxpool.Conn
}

// Unlock releases the advisory lock and its connection. The lock would also
// drop with the session, but releasing explicitly keeps the connection
// reusable.
func (u *pgUnlocker) Unlock() {
	_, err := u.conn.Exec(context.Background(),
		"SELECT pg_advisory_unlock($1, $2)", advisoryLockClass, importImagesLock)
	if err != nil {
		logger.Warn("Failed to release import lock", logger.Err(err))
	}
	u.conn.Release()
}

// TryImportLock acquires the import_images advisory lock without queueing.
// The lock is session-scoped, so the holding connection is pinned until
// Unlock.
func (s *Store) TryImportLock(ctx context.Context) (bootresources.Unlocker, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}

	var locked bool
	err = conn.QueryRow(ctx,
		"SELECT pg_try_advisory_lock($1, $2)", advisoryLockClass, importImagesLock,
	).Scan(&locked)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("trying import lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, bootresources.ErrLockNotHeld
	}
	return &pgUnlocker{conn: conn}, nil
}

// ImportLockHeld reports whether any session holds the import lock.
func (s *Store) ImportLockHeld(ctx context.Context) (bool, error) {
	var held bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_locks
			WHERE locktype = 'advisory' AND classid = $1 AND objid = $2
		)`, advisoryLockClass, importImagesLock,
	).Scan(&held)
	if err != nil {
		return false, fmt.Errorf("checking import lock: %w", err)
	}
	return held, nil
}

// ============================================================================
// Large object I/O
// ============================================================================

// contentOID returns the large-object OID backing a large file.
func (s *Store) contentOID(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, largeFileID int64) (uint32, error) {
	var oid uint32
	err := q.QueryRow(ctx,
		"SELECT content FROM large_files WHERE id = $1", largeFileID,
	).Scan(&oid)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, bootresources.ErrNotFound
	}
	return oid, err
}

// OpenLargeObjectRead opens a blob for streaming reads on its own connection
// and transaction. PostgreSQL only exposes large objects inside a
// transaction, and the stream outlives whatever request transaction resolved
// the file, so the reader pins a connection until Close.
func (s *Store) OpenLargeObjectRead(ctx context.Context, largeFileID int64) (io.ReadCloser, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	oid, err := s.contentOID(ctx, tx, largeFileID)
	if err != nil {
		_ = tx.Rollback(ctx)
		conn.Release()
		return nil, err
	}

	obj, err := tx.LargeObjects().Open(ctx, oid, pgx.LargeObjectModeRead)
	if err != nil {
		_ = tx.Rollback(ctx)
		conn.Release()
		return nil, fmt.Errorf("opening large object %d: %w", oid, err)
	}
	return &blobReader{ctx: ctx, conn: conn, tx: tx, obj: obj}, nil
}

// OpenLargeObjectWrite opens a blob for writing on its own connection and
// transaction. Commit records the observed size; Abort rolls everything
// back.
func (s *Store) OpenLargeObjectWrite(ctx context.Context, largeFileID int64) (bootresources.BlobWriter, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	oid, err := s.contentOID(ctx, tx, largeFileID)
	if err != nil {
		_ = tx.Rollback(ctx)
		conn.Release()
		return nil, err
	}

	obj, err := tx.LargeObjects().Open(ctx, oid, pgx.LargeObjectModeWrite)
	if err != nil {
		_ = tx.Rollback(ctx)
		conn.Release()
		return nil, fmt.Errorf("opening large object %d: %w", oid, err)
	}
	return &blobWriter{ctx: ctx, conn: conn, tx: tx, obj: obj, largeFileID: largeFileID}, nil
}
