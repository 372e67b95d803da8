package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

func TestBlobRepo_PutGetDelete(t *testing.T) {
	repo := NewBlobRepo(setupTestDB(t))
	ctx := context.Background()

	blob := driven.Blob{
		Key:         "invoices/1.pdf",
		Filename:    "invoice-145.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4 test"),
	}
	require.NoError(t, repo.Put(ctx, blob))

	got, err := repo.Get(ctx, blob.Key)
	require.NoError(t, err)
	assert.Equal(t, blob, *got)

	require.NoError(t, repo.Delete(ctx, blob.Key))

	_, err = repo.Get(ctx, blob.Key)
	require.ErrorIs(t, err, driven.ErrBlobNotFound)
}

func TestBlobRepo_PutReplaces(t *testing.T) {
	repo := NewBlobRepo(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, driven.Blob{Key: "k", Filename: "a.pdf", ContentType: "application/pdf", Data: []byte("one")}))
	require.NoError(t, repo.Put(ctx, driven.Blob{Key: "k", Filename: "b.pdf", ContentType: "application/pdf", Data: []byte("two")}))

	got, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "b.pdf", got.Filename)
	assert.Equal(t, []byte("two"), got.Data)
}

func TestBlobRepo_DeleteMissing(t *testing.T) {
	repo := NewBlobRepo(setupTestDB(t))

	assert.NoError(t, repo.Delete(context.Background(), "nope"))
}
