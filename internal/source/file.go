package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/turbolytics/porter/internal"
)

// FileSource reads a single delimited file from the local filesystem.
// The file holds one stream, named by its stem.
type FileSource struct {
	path   string
	logger *zap.Logger
}

type FileOption func(*FileSource)

func WithFileLogger(l *zap.Logger) FileOption {
	return func(s *FileSource) {
		s.logger = l
	}
}

func NewFileSource(path string, opts ...FileOption) *FileSource {
	s := &FileSource{
		path:   path,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileSource) stream() string {
	base := filepath.Base(s.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (s *FileSource) open() (*os.File, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", s.path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.path, err)
	}
	return f, nil
}

func (s *FileSource) Discover(ctx context.Context) ([]StreamDescriptor, error) {
	f, err := s.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b, err := newCSVBatcher(f, s.stream(), DefaultBatchSize)
	if err != nil {
		return nil, err
	}
	if len(b.columns) == 0 {
		// a present but empty file exposes no streams
		return nil, nil
	}

	s.logger.Debug("discovered stream",
		zap.String("stream", s.stream()),
		zap.Int("columns", len(b.columns)),
	)
	return []StreamDescriptor{describeCSV(s.stream(), b.columns)}, nil
}

func (s *FileSource) ReadBatches(ctx context.Context, stream string, batchSize int) (BatchIterator, error) {
	if stream != s.stream() {
		return nil, fmt.Errorf("unknown stream %q", stream)
	}

	f, err := s.open()
	if err != nil {
		return nil, err
	}

	b, err := newCSVBatcher(f, stream, batchSize)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &fileIterator{f: f, batcher: b}, nil
}

type fileIterator struct {
	f       *os.File
	batcher *csvBatcher
}

func (it *fileIterator) Next(ctx context.Context) (*internal.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return it.batcher.next()
}

func (it *fileIterator) Close() error {
	return it.f.Close()
}
