package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/git-habz/maas/internal/logger"
)

// blobReader streams a large object out of the database. It owns a pinned
// connection and read transaction, both released exactly once on Close.
type blobReader struct {
	ctx    context.Context
	conn   *pgxpool.Conn
	tx     pgx.Tx
	obj    *pgx.LargeObject
	closed bool
}

func (r *blobReader) Read(p []byte) (int, error) {
	return r.obj.Read(p)
}

func (r *blobReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.obj.Close(); err != nil {
		logger.Debug("Closing large object reader", logger.Err(err))
	}
	err := r.tx.Commit(r.ctx)
	if err != nil {
		_ = r.tx.Rollback(r.ctx)
	}
	r.conn.Release()
	return err
}

// blobWriter streams bytes into a large object. Exactly one of Commit or
// Abort releases the pinned connection. Commit truncates the object to the
// written length, records the observed size on the large file, and commits;
// Abort rolls the whole write back, leaving the blob empty.
type blobWriter struct {
	ctx         context.Context
	conn        *pgxpool.Conn
	tx          pgx.Tx
	obj         *pgx.LargeObject
	largeFileID int64
	written     int64
	done        bool
}

func (w *blobWriter) Write(p []byte) (int, error) {
	n, err := w.obj.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *blobWriter) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	defer w.conn.Release()

	// A rewrite of an existing blob may be shorter than what was there.
	if err := w.obj.Truncate(w.written); err != nil {
		_ = w.tx.Rollback(w.ctx)
		return err
	}
	if err := w.obj.Close(); err != nil {
		_ = w.tx.Rollback(w.ctx)
		return err
	}
	if _, err := w.tx.Exec(w.ctx,
		"UPDATE large_files SET size = $1 WHERE id = $2",
		w.written, w.largeFileID,
	); err != nil {
		_ = w.tx.Rollback(w.ctx)
		return err
	}
	return w.tx.Commit(w.ctx)
}

func (w *blobWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	defer w.conn.Release()
	_ = w.obj.Close()
	return w.tx.Rollback(w.ctx)
}
