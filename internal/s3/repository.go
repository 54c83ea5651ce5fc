package s3

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"

	paws "github.com/turbolytics/porter/internal/aws"
)

// uploaderAPI is the slice of the s3manager uploader the repository
// uses; tests inject fakes through WithUploader.
type uploaderAPI interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

type Option func(*Repository)

func WithRegion(region string) Option {
	return func(r *Repository) {
		r.Region = region
	}
}

func WithBucket(bucket string) Option {
	return func(r *Repository) {
		r.Bucket = bucket
	}
}

func WithPrefix(prefix string) Option {
	return func(r *Repository) {
		r.Prefix = prefix
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) {
		r.logger = l
	}
}

func WithForcePathStyle(forcePathStyle bool) Option {
	return func(r *Repository) {
		r.ForcePathStyle = forcePathStyle
	}
}

func WithEndpoint(endpoint string) Option {
	return func(r *Repository) {
		r.Endpoint = endpoint
	}
}

func WithUploader(u uploaderAPI) Option {
	return func(r *Repository) {
		r.uploader = u
	}
}

type Repository struct {
	logger   *zap.Logger
	uploader uploaderAPI

	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	ForcePathStyle bool
}

func New(opts ...Option) (*Repository, error) {
	r := &Repository{
		logger: zap.NewNop(),
	}

	for _, o := range opts {
		o(r)
	}

	if r.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	if r.uploader == nil {
		sess, err := paws.NewSession(paws.Config{
			Region:         r.Region,
			Endpoint:       r.Endpoint,
			ForcePathStyle: r.ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		r.uploader = s3manager.NewUploader(sess)
	}

	return r, nil
}

func (r *Repository) Write(ctx context.Context, key string, reader io.Reader) error {
	objPath := filepath.Join(
		r.Prefix,
		key,
	)

	r.logger.Debug(
		"s3 repository write",
		zap.String("key", key),
		zap.String("prefix", r.Prefix),
		zap.String("object_path", objPath),
		zap.String("bucket", r.Bucket),
	)

	_, err := r.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(objPath),
		Body:   bufio.NewReader(reader),
	})
	if err != nil {
		return fmt.Errorf("uploading s3://%s/%s: %w", r.Bucket, objPath, err)
	}
	return nil
}

// Flush is a no-op; each Write uploads synchronously.
func (r *Repository) Flush() error {
	return nil
}
