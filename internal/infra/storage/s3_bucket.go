package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/upload"
)

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional custom endpoint (MinIO, LocalStack, R2)
	PublicBaseURL   string // Optional CDN or public bucket URL
	AccessKeyID     string
	SecretAccessKey string
}

// S3Bucket stores objects in an S3-compatible bucket.
type S3Bucket struct {
	client *s3.Client
	cfg    S3Config
}

func NewS3Bucket(ctx context.Context, cfg S3Config) (*S3Bucket, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Bucket{client: client, cfg: cfg}, nil
}

func (s *S3Bucket) Name() string { return s.cfg.Bucket }

func (s *S3Bucket) Ping(ctx context.Context) error {
	if s.cfg.Bucket == "" {
		return fmt.Errorf("%w: S3_BUCKET required", upload.ErrNotConfigured)
	}
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.cfg.Bucket),
		MaxKeys: aws.Int32(1),
	})
	return classifyS3(err)
}

func (s *S3Bucket) Put(ctx context.Context, path, contentType string, data []byte) error {
	if s.cfg.Bucket == "" {
		return fmt.Errorf("%w: S3_BUCKET required", upload.ErrNotConfigured)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.cfg.Bucket),
		Key:          aws.String(path),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("max-age=" + upload.CacheControl),
		IfNoneMatch:  aws.String("*"),
	})
	return classifyS3(err)
}

func (s *S3Bucket) PublicURL(path string) (string, error) {
	escaped := (&url.URL{Path: path}).EscapedPath()
	switch {
	case s.cfg.PublicBaseURL != "":
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + escaped, nil
	case s.cfg.Endpoint != "":
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.Endpoint, "/"), s.cfg.Bucket, escaped), nil
	case s.cfg.Bucket != "":
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, escaped), nil
	}
	return "", nil
}

func classifyS3(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return fmt.Errorf("%w: %v", upload.ErrBucketMissing, err)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%w: %v", upload.ErrAlreadyExists, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %v", upload.ErrPermissionDenied, err)
		}
	}
	return err
}

var _ upload.Bucket = (*S3Bucket)(nil)
