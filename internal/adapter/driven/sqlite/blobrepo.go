package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.BlobStore = (*BlobRepo)(nil)

// BlobRepo stores attachments in the blobs table. It is the default BlobStore
// when no S3 bucket is configured.
type BlobRepo struct {
	db  *DB
	now func() time.Time
}

// NewBlobRepo creates a new BlobRepo backed by the given DB.
func NewBlobRepo(db *DB) *BlobRepo {
	return &BlobRepo{db: db, now: time.Now}
}

// Put inserts or replaces the blob stored under blob.Key.
func (r *BlobRepo) Put(ctx context.Context, blob driven.Blob) error {
	const query = `
		INSERT INTO blobs (key, filename, content_type, data, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			filename = excluded.filename,
			content_type = excluded.content_type,
			data = excluded.data
	`

	data := blob.Data
	if data == nil {
		data = []byte{}
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		blob.Key, blob.Filename, blob.ContentType, data, formatTime(r.now()))
	if err != nil {
		return fmt.Errorf("put blob %s: %w", blob.Key, err)
	}
	return nil
}

// Get returns the blob stored under key, or ErrBlobNotFound.
func (r *BlobRepo) Get(ctx context.Context, key string) (*driven.Blob, error) {
	const query = `SELECT key, filename, content_type, data FROM blobs WHERE key = ?`

	var blob driven.Blob
	err := r.db.Reader.QueryRowContext(ctx, query, key).
		Scan(&blob.Key, &blob.Filename, &blob.ContentType, &blob.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get blob %s: %w", key, driven.ErrBlobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", key, err)
	}
	return &blob, nil
}

// Delete removes the blob stored under key. Deleting a missing key is not an error.
func (r *BlobRepo) Delete(ctx context.Context, key string) error {
	if _, err := r.db.Writer.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}
