package drivers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sashko-guz/kvstore/internal/errs"
	"github.com/sashko-guz/kvstore/internal/logger"
)

const s3Backend = "s3"

var s3Log = logger.New("S3 Storage")

// S3Options configures an S3Client. BaseURL selects an S3-compatible endpoint
// instead of AWS; credentials are then mandatory.
type S3Options struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	BaseURL   string
	HTTP      *HTTPConfig
}

type S3Client struct {
	client     *s3.Client
	httpClient *http.Client
	bucket     string
}

// NewS3Client builds the client and makes sure the bucket exists. Failing to
// reach the store or to create the bucket is a configuration error.
func NewS3Client(ctx context.Context, opts S3Options) (*S3Client, error) {
	if opts.Bucket == "" {
		return nil, errs.Config("bucket is required for S3 driver")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	httpClient := newHTTPClient(opts.HTTP, s3Log)

	var s3Client *s3.Client
	if opts.BaseURL != "" {
		if opts.AccessKey == "" || opts.SecretKey == "" {
			return nil, errs.Config("access_key and secret_key are required when using base_url for S3-compatible storage")
		}
		s3Log.Infof("Initializing S3-compatible storage: endpoint=%s, bucket=%s, region=%s", opts.BaseURL, opts.Bucket, opts.Region)
		// For S3-compatible storage use a static config so no AWS credential
		// chain or IMDS lookups happen
		s3Client = s3.New(s3.Options{
			Region:                     opts.Region,
			Credentials:                credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
			BaseEndpoint:               aws.String(opts.BaseURL),
			UsePathStyle:               true,
			HTTPClient:                 httpClient,
			Retryer:                    aws.NopRetryer{},
			RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
			ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
		})
	} else {
		s3Log.Infof("Initializing AWS S3 storage: bucket=%s, region=%s", opts.Bucket, opts.Region)
		configOpts := []func(*config.LoadOptions) error{
			config.WithRegion(opts.Region),
			config.WithHTTPClient(httpClient),
			config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
		}

		if opts.AccessKey != "" && opts.SecretKey != "" {
			configOpts = append(configOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
			))
		}

		cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
		if err != nil {
			return nil, errs.Config("failed to load AWS config: %v", err)
		}

		s3Client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.UsePathStyle = true
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		})
	}

	c := &S3Client{
		client:     s3Client,
		httpClient: httpClient,
		bucket:     opts.Bucket,
	}
	if err := c.ensureBucket(ctx, opts.Region); err != nil {
		c.Close()
		return nil, err
	}

	s3Log.Infof("Client initialized successfully for bucket: %s", opts.Bucket)
	return c, nil
}

// ensureBucket creates the bucket unless it already exists
func (s *S3Client) ensureBucket(ctx context.Context, region string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}
	if !isBucketMissing(err) {
		return errs.Config("failed to check bucket %q: %v", s.bucket, err)
	}

	input := &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	}
	// us-east-1 rejects an explicit location constraint
	if region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}

	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return errs.Config("failed to create bucket %q: %v", s.bucket, err)
	}

	s3Log.Infof("Created bucket: %s", s.bucket)
	return nil
}

func (s *S3Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	s3Log.Debugf("Fetching object: bucket=%s, key=%s", s.bucket, key)
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			s3Log.Debugf("Object not found: bucket=%s, key=%s", s.bucket, key)
			return nil, errs.NotFound(s3Backend, "get", key, err)
		}
		s3Log.Errorf("Error fetching object: bucket=%s, key=%s, error=%v", s.bucket, key, err)
		return nil, errs.Unavailable(s3Backend, "get", key, err)
	}
	// the body must be drained and closed so the connection returns to the pool
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		s3Log.Errorf("Error reading object body: bucket=%s, key=%s, error=%v", s.bucket, key, err)
		return nil, errs.Unavailable(s3Backend, "get", key, err)
	}
	if data == nil {
		data = []byte{}
	}

	s3Log.Debugf("Successfully fetched object: bucket=%s, key=%s, size=%d bytes", s.bucket, key, len(data))
	return data, nil
}

func (s *S3Client) PutObject(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(value),
		ContentLength: aws.Int64(int64(len(value))),
	})
	if err != nil {
		s3Log.Errorf("Error storing object: bucket=%s, key=%s, error=%v", s.bucket, key, err)
		return errs.Unavailable(s3Backend, "put", key, err)
	}

	s3Log.Debugf("Stored object: bucket=%s, key=%s, size=%d bytes", s.bucket, key, len(value))
	return nil
}

// isS3NotFound reports whether err is the store's "no such key" condition
func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// isBucketMissing reports whether a HeadBucket failure means the bucket does
// not exist. HEAD responses carry no body, so the status code is all some
// servers give us.
func isBucketMissing(err error) bool {
	var noSuchBucket *types.NoSuchBucket
	if isS3NotFound(err) || errors.As(err, &noSuchBucket) {
		return true
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

// Close drops the pooled connections
func (s *S3Client) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}
