package drivers

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sashko-guz/kvstore/internal/errs"
	"github.com/sashko-guz/kvstore/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "kv-test"

func newTestS3Client(t *testing.T, server *storagetest.ObjectServer) *S3Client {
	t.Helper()
	c, err := NewS3Client(context.Background(), S3Options{
		Bucket:    testBucket,
		Region:    "us-east-1",
		AccessKey: "test-access",
		SecretKey: "test-secret",
		BaseURL:   server.URL,
		HTTP:      &HTTPConfig{RequestTimeout: 5},
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestS3ClientContract(t *testing.T) {
	storagetest.RunContract(t, func(t *testing.T) storagetest.Store {
		return newTestS3Client(t, storagetest.NewObjectServer(t))
	})
}

func TestS3ClientCreatesMissingBucket(t *testing.T) {
	server := storagetest.NewObjectServer(t)
	require.False(t, server.HasBucket(testBucket))

	newTestS3Client(t, server)
	assert.True(t, server.HasBucket(testBucket))
}

func TestS3ClientUsesExistingBucket(t *testing.T) {
	server := storagetest.NewObjectServer(t, testBucket)
	c := newTestS3Client(t, server)

	require.NoError(t, c.PutObject(context.Background(), "user:42", []byte("v")))

	raw, ok := server.Object(testBucket, "user:42")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), raw)
}

func TestS3ClientKeysAreVerbatim(t *testing.T) {
	server := storagetest.NewObjectServer(t)
	c := newTestS3Client(t, server)
	ctx := context.Background()

	require.NoError(t, c.PutObject(ctx, "a/b", []byte("slash")))
	require.NoError(t, c.PutObject(ctx, "a_b", []byte("underscore")))

	got, err := c.GetObject(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, []byte("slash"), got)

	got, err = c.GetObject(ctx, "a_b")
	require.NoError(t, err)
	assert.Equal(t, []byte("underscore"), got)
}

func TestS3ClientServiceFailureIsUnavailable(t *testing.T) {
	server := storagetest.NewObjectServer(t)
	c := newTestS3Client(t, server)
	ctx := context.Background()

	require.NoError(t, c.PutObject(ctx, "k", []byte("v")))
	server.SetFailing(true)

	before := server.Requests()
	_, err := c.GetObject(ctx, "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrStorageUnavailable)
	assert.Equal(t, before+1, server.Requests(), "the client must not retry")

	err = c.PutObject(ctx, "k", []byte("v2"))
	assert.ErrorIs(t, err, errs.ErrStorageUnavailable)

	server.SetFailing(false)
	got, err := c.GetObject(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestS3ClientUnreachableAtStartupIsConfigError(t *testing.T) {
	server := storagetest.NewObjectServer(t)
	server.SetFailing(true)

	_, err := NewS3Client(context.Background(), S3Options{
		Bucket:    testBucket,
		AccessKey: "test-access",
		SecretKey: "test-secret",
		BaseURL:   server.URL,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestNewS3ClientValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewS3Client(ctx, S3Options{})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)

	_, err = NewS3Client(ctx, S3Options{Bucket: testBucket, BaseURL: "http://127.0.0.1:1"})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestS3ClientCloseReleasesConnections(t *testing.T) {
	server := storagetest.NewObjectServer(t)
	c := newTestS3Client(t, server)
	ctx := context.Background()

	require.NoError(t, c.PutObject(ctx, "k", []byte("v")))
	require.Positive(t, server.OpenConns())

	var closer io.Closer = c
	require.NoError(t, closer.Close())
	assert.Eventually(t, func() bool { return server.OpenConns() == 0 }, 2*time.Second, 10*time.Millisecond)
}
