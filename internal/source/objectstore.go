package source

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"

	"github.com/turbolytics/porter/internal"
	paws "github.com/turbolytics/porter/internal/aws"
)

const (
	DefaultChunkSizeBytes = 1 << 20
	DefaultBufferChunks   = 8
	DefaultMaxWorkers     = 4

	// discoverRangeBytes bounds the header probe; one ranged request
	// recovers the schema without a full download.
	discoverRangeBytes = 64 * 1024
)

// ObjectAPI is the slice of the S3 client the source depends on.
type ObjectAPI interface {
	HeadObjectWithContext(ctx aws.Context, input *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error)
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	ListObjectsV2WithContext(ctx aws.Context, input *s3.ListObjectsV2Input, opts ...request.Option) (*s3.ListObjectsV2Output, error)
}

// DownloadAPI is the slice of the transfer manager the source depends on.
type DownloadAPI interface {
	DownloadWithContext(ctx aws.Context, w io.WriterAt, input *s3.GetObjectInput, opts ...func(*s3manager.Downloader)) (int64, error)
}

// ObjectStoreSource streams delimited objects out of an S3 compatible
// bucket in constant memory. Objects whose key ends in .gz or .gzip
// are decompressed on the fly. Each object is one stream.
type ObjectStoreSource struct {
	bucket         string
	keys           []string
	prefix         string
	region         string
	endpoint       string
	forcePathStyle bool

	chunkSize    int
	bufferChunks int
	maxWorkers   int

	client     ObjectAPI
	downloader DownloadAPI
	logger     *zap.Logger
}

type ObjectStoreOption func(*ObjectStoreSource)

func WithKeys(keys []string) ObjectStoreOption {
	return func(s *ObjectStoreSource) {
		s.keys = keys
	}
}

func WithPrefix(prefix string) ObjectStoreOption {
	return func(s *ObjectStoreSource) {
		s.prefix = prefix
	}
}

func WithRegion(region string) ObjectStoreOption {
	return func(s *ObjectStoreSource) {
		s.region = region
	}
}

func WithEndpoint(endpoint string) ObjectStoreOption {
	return func(s *ObjectStoreSource) {
		s.endpoint = endpoint
	}
}

func WithForcePathStyle(forcePathStyle bool) ObjectStoreOption {
	return func(s *ObjectStoreSource) {
		s.forcePathStyle = forcePathStyle
	}
}

func WithChunkSize(n int) ObjectStoreOption {
	return func(s *ObjectStoreSource) {
		s.chunkSize = n
	}
}

func WithBufferChunks(n int) ObjectStoreOption {
	return func(s *ObjectStoreSource) {
		s.bufferChunks = n
	}
}

func WithMaxWorkers(n int) ObjectStoreOption {
	return func(s *ObjectStoreSource) {
		s.maxWorkers = n
	}
}

func WithClient(c ObjectAPI) ObjectStoreOption {
	return func(s *ObjectStoreSource) {
		s.client = c
	}
}

func WithDownloader(d DownloadAPI) ObjectStoreOption {
	return func(s *ObjectStoreSource) {
		s.downloader = d
	}
}

func WithObjectStoreLogger(l *zap.Logger) ObjectStoreOption {
	return func(s *ObjectStoreSource) {
		s.logger = l
	}
}

func NewObjectStoreSource(bucket string, opts ...ObjectStoreOption) (*ObjectStoreSource, error) {
	s := &ObjectStoreSource{
		bucket:       bucket,
		chunkSize:    DefaultChunkSizeBytes,
		bufferChunks: DefaultBufferChunks,
		maxWorkers:   DefaultMaxWorkers,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil || s.downloader == nil {
		sess, err := paws.NewSession(paws.Config{
			Region:         s.region,
			Endpoint:       s.endpoint,
			ForcePathStyle: s.forcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		if s.client == nil {
			s.client = s3.New(sess)
		}
		if s.downloader == nil {
			s.downloader = s3manager.NewDownloaderWithClient(s3.New(sess))
		}
	}
	return s, nil
}

func isGzipKey(key string) bool {
	return strings.HasSuffix(key, ".gz") || strings.HasSuffix(key, ".gzip")
}

// streamForKey derives the stream name from the object key:
// "data/orders.csv.gz" exposes the stream "orders".
func streamForKey(key string) string {
	base := path.Base(key)
	base = strings.TrimSuffix(base, ".gzip")
	base = strings.TrimSuffix(base, ".gz")
	return strings.TrimSuffix(base, path.Ext(base))
}

func (s *ObjectStoreSource) mapNotFound(key string, err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrNotFound)
		}
	}
	return fmt.Errorf("s3://%s/%s: %w", s.bucket, key, err)
}

func (s *ObjectStoreSource) listKeys(ctx context.Context) ([]string, error) {
	var (
		keys  []string
		token *string
	)
	for {
		out, err := s.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, s.mapNotFound(s.prefix, err)
		}
		for _, obj := range out.Contents {
			key := aws.StringValue(obj.Key)
			if strings.HasSuffix(key, "/") || aws.Int64Value(obj.Size) == 0 {
				continue
			}
			keys = append(keys, key)
		}
		if !aws.BoolValue(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Strings(keys)
	return keys, nil
}

// resolveKeys returns the object keys this source reads, either the
// configured list or a prefix listing.
func (s *ObjectStoreSource) resolveKeys(ctx context.Context) ([]string, error) {
	if len(s.keys) > 0 {
		return s.keys, nil
	}
	if s.prefix != "" {
		return s.listKeys(ctx)
	}
	return nil, nil
}

// probeHeader reads the leading bytes of an object and parses the csv
// header out of them. Gzip objects are decoded from the front; a csv
// header larger than the probe range is an error.
func (s *ObjectStoreSource) probeHeader(ctx context.Context, key string) ([]string, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=0-%d", discoverRangeBytes-1)),
	})
	if err != nil {
		return nil, s.mapNotFound(key, err)
	}
	defer out.Body.Close()

	var r io.Reader = out.Body
	if isGzipKey(key) {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("decoding gzip header of s3://%s/%s: %w", s.bucket, key, err)
		}
		r = gz
	}

	b, err := newCSVBatcher(r, streamForKey(key), 1)
	if err != nil {
		return nil, err
	}
	return b.columns, nil
}

func (s *ObjectStoreSource) Discover(ctx context.Context) ([]StreamDescriptor, error) {
	keys, err := s.resolveKeys(ctx)
	if err != nil {
		return nil, err
	}

	var out []StreamDescriptor
	for _, key := range keys {
		head, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, s.mapNotFound(key, err)
		}

		header, err := s.probeHeader(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(header) == 0 {
			// empty object exposes no stream
			continue
		}

		s.logger.Debug("discovered stream",
			zap.String("stream", streamForKey(key)),
			zap.String("key", key),
			zap.Int64("content_length", aws.Int64Value(head.ContentLength)),
			zap.Int("columns", len(header)),
		)
		out = append(out, describeCSV(streamForKey(key), header))
	}
	return out, nil
}

func (s *ObjectStoreSource) keyForStream(ctx context.Context, stream string) (string, error) {
	keys, err := s.resolveKeys(ctx)
	if err != nil {
		return "", err
	}
	for _, key := range keys {
		if streamForKey(key) == stream {
			return key, nil
		}
	}
	return "", fmt.Errorf("unknown stream %q", stream)
}

func (s *ObjectStoreSource) ReadBatches(ctx context.Context, stream string, batchSize int) (BatchIterator, error) {
	key, err := s.keyForStream(ctx, stream)
	if err != nil {
		return nil, err
	}

	head, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.mapNotFound(key, err)
	}

	// the iterator owns this context; Close cancels the producer
	// through it
	prodCtx, cancel := context.WithCancel(ctx)
	queue := newChunkQueue(s.bufferChunks)

	it := &objectIterator{
		stream:        stream,
		batchSize:     batchSize,
		bucket:        s.bucket,
		key:           key,
		contentLength: aws.Int64Value(head.ContentLength),
		gzip:          isGzipKey(key),
		cancel:        cancel,
		queue:         queue,
		reader:        newQueueReader(prodCtx, queue),
		done:          s.startProducer(prodCtx, key, queue),
		logger:        s.logger,
	}
	return it, nil
}

// startProducer runs the managed download into the ordered queue. On
// failure the error chunk is the last thing enqueued, so the consumer
// sees every byte that arrived before the fault, then the fault itself.
func (s *ObjectStoreSource) startProducer(ctx context.Context, key string, queue *chunkQueue) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer queue.close()

		w := newOrderedQueueWriter(ctx, queue, s.chunkSize)
		n, err := s.downloader.DownloadWithContext(ctx, w, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}, func(d *s3manager.Downloader) {
			d.PartSize = int64(s.chunkSize)
			d.Concurrency = s.maxWorkers
		})
		if err != nil {
			if ctx.Err() != nil {
				// consumer went away; nobody is listening
				return
			}
			terr := &TransferError{Bucket: s.bucket, Key: key, Err: err}
			s.logger.Error("object transfer failed",
				zap.String("key", key),
				zap.Error(terr),
			)
			_ = queue.put(ctx, chunk{err: terr})
			return
		}
		s.logger.Debug("object transfer complete",
			zap.String("key", key),
			zap.Int64("bytes", n),
		)
	}()
	return done
}

type objectIterator struct {
	stream        string
	batchSize     int
	bucket        string
	key           string
	contentLength int64
	gzip          bool

	cancel  context.CancelFunc
	queue   *chunkQueue
	reader  io.Reader
	done    <-chan struct{}
	batcher *csvBatcher
	logger  *zap.Logger
}

func (it *objectIterator) Next(ctx context.Context) (*internal.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// the header is parsed on the first call, once bytes are flowing
	if it.batcher == nil {
		r := it.reader
		if it.gzip {
			gz, err := gzip.NewReader(r)
			if err != nil {
				return nil, err
			}
			r = gz
		}
		b, err := newCSVBatcher(r, it.stream, it.batchSize)
		if err != nil {
			return nil, err
		}
		it.batcher = b
	}

	batch, err := it.batcher.next()
	if err != nil {
		return nil, err
	}
	batch.Provenance.Bucket = it.bucket
	batch.Provenance.Key = it.key
	batch.Provenance.ContentLength = it.contentLength
	return batch, nil
}

// BufferedBytes reports bytes currently held in the transfer queue.
func (it *objectIterator) BufferedBytes() int64 {
	return it.queue.bufferedBytes()
}

// Close cancels the producer and waits for it to exit.
func (it *objectIterator) Close() error {
	it.cancel()
	<-it.done
	return nil
}
