package auditarchive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
)

// Uploader stores one archive object.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

// S3Uploader writes archive objects to an S3-compatible bucket.
type S3Uploader struct {
	s3Client *s3.Client
	bucket   string
}

// NewS3Uploader creates an uploader and checks that the bucket is reachable.
func NewS3Uploader(ctx context.Context, cfg *Config) (*S3Uploader, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("audit archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	if _, err := s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.BucketName)}); err != nil {
		return nil, fmt.Errorf("bucket %s not accessible: %w", cfg.BucketName, err)
	}

	log.Infof("[AuditArchive] Initialized S3 uploader for bucket: %s", cfg.BucketName)
	return &S3Uploader{s3Client: s3Client, bucket: cfg.BucketName}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, key string, body []byte) error {
	_, err := u.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}
