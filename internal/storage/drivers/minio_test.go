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

func newTestMinioClient(t *testing.T, server *storagetest.ObjectServer) *MinioClient {
	t.Helper()
	c, err := NewMinioClient(context.Background(), MinioOptions{
		Endpoint:  server.Endpoint(),
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    testBucket,
		HTTP:      &HTTPConfig{ResponseHeaderTimeout: 5},
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestMinioClientContract(t *testing.T) {
	storagetest.RunContract(t, func(t *testing.T) storagetest.Store {
		return newTestMinioClient(t, storagetest.NewObjectServer(t))
	})
}

func TestMinioClientCreatesMissingBucket(t *testing.T) {
	server := storagetest.NewObjectServer(t)

	newTestMinioClient(t, server)
	assert.True(t, server.HasBucket(testBucket))
}

func TestMinioClientStoresExactBytes(t *testing.T) {
	server := storagetest.NewObjectServer(t, testBucket)
	c := newTestMinioClient(t, server)

	value := []byte{0x00, 0x01, 0xfe, 0xff}
	require.NoError(t, c.PutObject(context.Background(), "user:42", value))

	raw, ok := server.Object(testBucket, "user:42")
	require.True(t, ok)
	assert.Equal(t, value, raw)
}

func TestMinioClientServiceFailureIsUnavailable(t *testing.T) {
	server := storagetest.NewObjectServer(t)
	c := newTestMinioClient(t, server)
	ctx := context.Background()

	server.SetFailing(true)

	_, err := c.GetObject(ctx, "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrStorageUnavailable)
	assert.NotErrorIs(t, err, errs.ErrNotFound)

	err = c.PutObject(ctx, "k", []byte("v"))
	assert.ErrorIs(t, err, errs.ErrStorageUnavailable)
}

func TestNewMinioClientValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewMinioClient(ctx, MinioOptions{Bucket: testBucket, AccessKey: "a", SecretKey: "b"})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)

	_, err = NewMinioClient(ctx, MinioOptions{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)

	_, err = NewMinioClient(ctx, MinioOptions{Endpoint: "localhost:9000", Bucket: testBucket})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestSplitEndpoint(t *testing.T) {
	host, secure := splitEndpoint("https://minio.internal:9000/", false)
	assert.Equal(t, "minio.internal:9000", host)
	assert.True(t, secure)

	host, secure = splitEndpoint("http://localhost:9000", true)
	assert.Equal(t, "localhost:9000", host)
	assert.False(t, secure)

	host, secure = splitEndpoint("localhost:9000", true)
	assert.Equal(t, "localhost:9000", host)
	assert.True(t, secure)
}

func TestMinioClientCloseReleasesConnections(t *testing.T) {
	server := storagetest.NewObjectServer(t)
	c := newTestMinioClient(t, server)
	ctx := context.Background()

	require.NoError(t, c.PutObject(ctx, "k", []byte("v")))
	require.Positive(t, server.OpenConns())

	var closer io.Closer = c
	require.NoError(t, closer.Close())
	assert.Eventually(t, func() bool { return server.OpenConns() == 0 }, 2*time.Second, 10*time.Millisecond)
}
