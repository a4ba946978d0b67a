package mirror

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"mediavault/internal/config"
	"mediavault/internal/vault"
)

// S3Mirror stores record snapshots in an S3-compatible bucket, one object
// per token. When an encryptor is set, snapshots are encrypted before
// upload.
type S3Mirror struct {
	uploader  *manager.Uploader
	bucket    string
	prefix    string
	encryptor vault.Encryptor
}

var _ vault.Mirror = (*S3Mirror)(nil)

// NewS3Mirror creates a mirror against the configured bucket. Static
// credentials and a custom endpoint support S3-compatible stores (MinIO,
// COS, OSS); with neither set the default AWS chain applies.
func NewS3Mirror(ctx context.Context, cfg config.MirrorConfig, encryptor vault.Encryptor) (*S3Mirror, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3_bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config failed: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Mirror{
		uploader:  manager.NewUploader(client),
		bucket:    cfg.S3Bucket,
		prefix:    cfg.S3Prefix,
		encryptor: encryptor,
	}, nil
}

func (m *S3Mirror) PutSnapshot(ctx context.Context, token string, snapshot []byte) error {
	body := snapshot
	contentType := "application/json"

	if m.encryptor != nil {
		var buf bytes.Buffer
		if err := m.encryptor.Encrypt(bytes.NewReader(snapshot), &buf); err != nil {
			return fmt.Errorf("encrypting snapshot: %w", err)
		}
		body = buf.Bytes()
		contentType = "application/octet-stream"
	}

	key := path.Join(m.prefix, token+".json")
	if m.encryptor != nil {
		key += ".age"
	}

	_, err := m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("uploading snapshot: %w", err)
	}
	return nil
}
