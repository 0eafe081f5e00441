package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kraklabs/builder/internal/errs"
)

// S3Backend stores artifacts as objects under bucket, keyed by hash. Large
// artifacts are transferred through the S3 manager's multipart up/downloader.
// Both directions hold the whole object in memory: Upload takes it as a
// []byte and Fetch assembles it in a write-at buffer.
type S3Backend struct {
	bucket     string
	prefix     string
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

// S3Config names the bucket/region/credentials an S3Backend connects with.
// AccessKey/SecretKey empty means "use the default AWS credential chain".
type S3Config struct {
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// NewS3Backend loads an AWS config (static credentials if given, the
// default provider chain otherwise) and returns a backend ready to use.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3Backend{
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
	}, nil
}

func (b *S3Backend) key(id ID) string {
	if b.prefix == "" {
		return id.Hash
	}
	return b.prefix + "/" + id.Hash
}

func (b *S3Backend) Fetch(ctx context.Context, id ID) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := b.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, &errs.ArtifactNotFoundError{Hash: id.Hash}
		}
		return nil, &errs.NetworkError{Cause: err}
	}
	return buf.Bytes(), nil
}

func (b *S3Backend) Upload(ctx context.Context, id ID, data []byte) error {
	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return &errs.NetworkError{Cause: err}
	}
	return nil
}
