package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

type storedObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

// fakeObjectAPI is an in-memory bucket.
type fakeObjectAPI struct {
	objects map[string]storedObject
	putErr  error
}

func newFakeObjectAPI() *fakeObjectAPI {
	return &fakeObjectAPI{objects: make(map[string]storedObject)}
}

func (f *fakeObjectAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = storedObject{
		data:        data,
		contentType: aws.ToString(in.ContentType),
		metadata:    in.Metadata,
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjectAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		ContentType: aws.String(obj.contentType),
		Metadata:    obj.metadata,
	}, nil
}

func (f *fakeObjectAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestStore_PutGetDelete(t *testing.T) {
	api := newFakeObjectAPI()
	store := newStore(api, "invoices")
	ctx := context.Background()

	blob := driven.Blob{
		Key:         "shipments/7/invoice.pdf",
		Filename:    "invoice-145.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4"),
	}
	require.NoError(t, store.Put(ctx, blob))
	assert.Contains(t, api.objects, "invoices/shipments/7/invoice.pdf")

	got, err := store.Get(ctx, blob.Key)
	require.NoError(t, err)
	assert.Equal(t, blob, *got)

	require.NoError(t, store.Delete(ctx, blob.Key))
	assert.Empty(t, api.objects)
}

func TestStore_GetMissing(t *testing.T) {
	store := newStore(newFakeObjectAPI(), "invoices")

	_, err := store.Get(context.Background(), "missing")

	require.ErrorIs(t, err, driven.ErrBlobNotFound)
}

func TestStore_PutError(t *testing.T) {
	api := newFakeObjectAPI()
	api.putErr = errors.New("access denied")
	store := newStore(api, "invoices")

	err := store.Put(context.Background(), driven.Blob{Key: "k"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
