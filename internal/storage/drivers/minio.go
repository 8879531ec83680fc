package drivers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sashko-guz/kvstore/internal/errs"
	"github.com/sashko-guz/kvstore/internal/logger"
)

const minioBackend = "minio"

var minioLog = logger.New("MinIO Storage")

// MinioOptions configures a MinioClient. Endpoint is host:port; a scheme
// prefix is tolerated and overrides UseSSL.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	HTTP      *HTTPConfig
}

type MinioClient struct {
	client    *minio.Client
	transport *http.Transport
	bucket    string
}

func NewMinioClient(ctx context.Context, opts MinioOptions) (*MinioClient, error) {
	if opts.Endpoint == "" {
		return nil, errs.Config("endpoint is required for MinIO driver")
	}
	if opts.Bucket == "" {
		return nil, errs.Config("bucket is required for MinIO driver")
	}
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, errs.Config("access_key and secret_key are required for MinIO driver")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	endpoint, secure := splitEndpoint(opts.Endpoint, opts.UseSSL)
	minioLog.Infof("Initializing MinIO storage: endpoint=%s, bucket=%s, secure=%t", endpoint, opts.Bucket, secure)

	transport := newTransport(resolveHTTPSettings(opts.HTTP), minioLog)
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: secure,
		// A known region skips the bucket location lookup
		Region:     opts.Region,
		Transport:  transport,
		MaxRetries: 1,
	})
	if err != nil {
		return nil, errs.Config("failed to create MinIO client: %v", err)
	}

	c := &MinioClient{
		client:    client,
		transport: transport,
		bucket:    opts.Bucket,
	}
	if err := c.ensureBucket(ctx, opts.Region); err != nil {
		c.Close()
		return nil, err
	}

	minioLog.Infof("Client initialized successfully for bucket: %s", opts.Bucket)
	return c, nil
}

// splitEndpoint strips an http:// or https:// prefix, which minio-go does not accept
func splitEndpoint(endpoint string, useSSL bool) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), false
	default:
		return strings.TrimSuffix(endpoint, "/"), useSSL
	}
}

func (m *MinioClient) ensureBucket(ctx context.Context, region string) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return errs.Config("failed to check bucket %q: %v", m.bucket, err)
	}
	if exists {
		return nil
	}

	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return nil
		}
		return errs.Config("failed to create bucket %q: %v", m.bucket, err)
	}

	minioLog.Infof("Created bucket: %s", m.bucket)
	return nil
}

func (m *MinioClient) GetObject(ctx context.Context, key string) ([]byte, error) {
	minioLog.Debugf("Fetching object: bucket=%s, key=%s", m.bucket, key)
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.classify("get", key, err)
	}
	defer obj.Close()

	// The request is only sent on the first Read, so that is where a missing
	// key surfaces
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.classify("get", key, err)
	}
	if data == nil {
		data = []byte{}
	}

	minioLog.Debugf("Successfully fetched object: bucket=%s, key=%s, size=%d bytes", m.bucket, key, len(data))
	return data, nil
}

func (m *MinioClient) PutObject(ctx context.Context, key string, value []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(value), int64(len(value)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		minioLog.Errorf("Error storing object: bucket=%s, key=%s, error=%v", m.bucket, key, err)
		return errs.Unavailable(minioBackend, "put", key, err)
	}

	minioLog.Debugf("Stored object: bucket=%s, key=%s, size=%d bytes", m.bucket, key, len(value))
	return nil
}

func (m *MinioClient) classify(op, key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		minioLog.Debugf("Object not found: bucket=%s, key=%s", m.bucket, key)
		return errs.NotFound(minioBackend, op, key, err)
	}
	minioLog.Errorf("Error fetching object: bucket=%s, key=%s, error=%v", m.bucket, key, err)
	return errs.Unavailable(minioBackend, op, key, err)
}

// Close drops the pooled connections
func (m *MinioClient) Close() error {
	m.transport.CloseIdleConnections()
	return nil
}
