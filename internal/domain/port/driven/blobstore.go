package driven

import (
	"context"
	"errors"
)

// ErrBlobNotFound is returned when a blob key does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// Blob is a stored binary attachment.
type Blob struct {
	Key         string
	Filename    string
	ContentType string
	Data        []byte
}

// BlobStore defines the driven port for opaque attachment storage.
type BlobStore interface {
	Put(ctx context.Context, blob Blob) error
	Get(ctx context.Context, key string) (*Blob, error)
	Delete(ctx context.Context, key string) error
}
