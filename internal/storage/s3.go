package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"curator/internal/config"
	"curator/internal/services"
)

// S3Store talks to AWS S3 or any S3-compatible endpoint (MinIO, R2).
type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

var _ ArtifactStore = (*S3Store)(nil)

// NewS3Store builds an S3-backed artifact store from the storage config. The
// SDK's default credential chain applies unless explicit keys are configured.
func NewS3Store(ctx context.Context, cfg config.Storage) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, services.Wrap(
			services.ErrConfiguration, "storage", "new s3 store",
			"storage.bucket is required for the s3 backend", nil)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, services.Wrap(
			services.ErrConfiguration, "storage", "new s3 store",
			"unable to load AWS configuration", err)
	}

	clientOpts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.ForcePathStyle
		},
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)
	return &S3Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
	}, nil
}

// IssueUploadGrant returns a presigned PUT URL for the key, valid for ttl.
func (s *S3Store) IssueUploadGrant(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	req, err := s.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", s.wrapError("issue upload grant", err)
	}
	return req.URL, nil
}

// StatObject returns size and content hash for a stored object. The hash is
// the backend ETag with quotes stripped; multipart uploads yield a composite
// ETag rather than a plain MD5, which is fine for dedup purposes.
func (s *S3Store) StatObject(ctx context.Context, key string) (*ObjectMeta, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.wrapError("stat object", err)
	}
	meta := &ObjectMeta{}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	if out.ETag != nil {
		meta.Hash = strings.Trim(*out.ETag, `"`)
	}
	return meta, nil
}

// Put writes an object directly, used by URL and bulk ingestion where the
// daemon fetches the bytes itself.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return s.wrapError("put object", err)
	}
	return nil
}

// DeleteObject removes an object. S3 deletes are idempotent already.
func (s *S3Store) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return s.wrapError("delete object", err)
	}
	return nil
}

func (s *S3Store) wrapError(op string, err error) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return services.Wrap(services.ErrNotFound, "storage", op, "object not found", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return services.Wrap(services.ErrNotFound, "storage", op, "object not found", err)
		case "NoSuchBucket":
			return services.Wrap(services.ErrConfiguration, "storage", op, "bucket does not exist", err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return services.Wrap(services.ErrConfiguration, "storage", op, "storage credentials rejected", err)
		}
	}
	return services.Wrap(services.ErrExternalService, "storage", op, "object store request failed", err)
}
