package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	bucket string
	key    string
	body   []byte
	err    error
}

func (f *fakeUploader) UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.StringValue(input.Bucket)
	f.key = aws.StringValue(input.Key)
	bs, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.body = bs
	return &s3manager.UploadOutput{}, nil
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")
}

func TestWritePrefixesKeys(t *testing.T) {
	uploader := &fakeUploader{}
	r, err := New(
		WithBucket("archive"),
		WithPrefix("porter"),
		WithUploader(uploader),
	)
	require.NoError(t, err)

	err = r.Write(context.Background(), "run-1/batch-0001.parquet", strings.NewReader("payload"))
	require.NoError(t, err)

	assert.Equal(t, "archive", uploader.bucket)
	assert.Equal(t, "porter/run-1/batch-0001.parquet", uploader.key)
	assert.Equal(t, "payload", string(uploader.body))
}

func TestWriteSurfacesUploadErrors(t *testing.T) {
	uploader := &fakeUploader{err: errors.New("boom")}
	r, err := New(
		WithBucket("archive"),
		WithUploader(uploader),
	)
	require.NoError(t, err)

	err = r.Write(context.Background(), "key", strings.NewReader("payload"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://archive/key")
}
