// Package media stores user avatars on an S3-compatible bucket.
package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"ctchen222/otaku-list/internal/apperror"
	"ctchen222/otaku-list/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("media")

// Swappable in tests.
var (
	loadDefaultAWSConfig  = awsconfig.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) putObjectAPI {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Avatar is an uploaded profile image.
type Avatar struct {
	URL      string
	PublicID string
}

// Store uploads avatar images.
type Store interface {
	Upload(ctx context.Context, name, contentType string, size int64, body io.Reader) (*Avatar, error)
	Enabled() bool
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Disabled rejects every upload. It is used when no bucket is configured.
type Disabled struct{}

func (Disabled) Upload(context.Context, string, string, int64, io.Reader) (*Avatar, error) {
	return nil, apperror.InvalidInput("avatar uploads are disabled")
}

func (Disabled) Enabled() bool { return false }

type s3Store struct {
	client    putObjectAPI
	bucket    string
	folder    string
	publicURL string
}

// New returns an S3-backed Store, or Disabled when cfg names no bucket.
func New(ctx context.Context, cfg config.MediaConfig) (Store, error) {
	if cfg.Bucket == "" {
		return Disabled{}, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	publicURL := strings.TrimRight(cfg.PublicURL, "/")
	if publicURL == "" {
		if cfg.Endpoint != "" {
			publicURL = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
		} else {
			publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}

	return &s3Store{
		client:    client,
		bucket:    cfg.Bucket,
		folder:    strings.Trim(cfg.Folder, "/"),
		publicURL: publicURL,
	}, nil
}

func (s *s3Store) Enabled() bool { return true }

// Upload stores body under a fresh object key in the configured folder. Only
// image content types are accepted.
func (s *s3Store) Upload(ctx context.Context, name, contentType string, size int64, body io.Reader) (*Avatar, error) {
	ctx, span := tracer.Start(ctx, "MediaStore.Upload", trace.WithAttributes(
		attribute.String("media.content_type", contentType),
		attribute.Int64("media.size", size),
	))
	defer span.End()

	if !strings.HasPrefix(contentType, "image/") {
		return nil, apperror.InvalidInput("avatar must be an image")
	}

	key := path.Join(s.folder, uuid.NewString()+path.Ext(name))
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload avatar")
		return nil, apperror.UpstreamUnavailable("failed to upload avatar", err)
	}

	return &Avatar{URL: s.publicURL + "/" + key, PublicID: key}, nil
}
