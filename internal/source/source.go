package source

import (
	"context"
	"errors"
	"io"

	"github.com/turbolytics/porter/internal"
)

const DefaultBatchSize = 1000

// StreamDescriptor names a record flow a source can read. Columns
// preserves header order; Schema maps column name to inferred type.
type StreamDescriptor struct {
	Name    string            `json:"name"`
	Columns []string          `json:"columns"`
	Schema  map[string]string `json:"schema"`
}

// Source is the capability contract every connector backend satisfies.
type Source interface {
	// Discover inspects the backing location and describes the streams
	// found there. A missing location wraps ErrNotFound.
	Discover(ctx context.Context) ([]StreamDescriptor, error)
	// ReadBatches opens the named stream and returns an iterator over
	// bounded row batches. Every call re-reads from the start; the
	// iterator itself is not restartable.
	ReadBatches(ctx context.Context, stream string, batchSize int) (BatchIterator, error)
}

// BatchIterator yields successive batches until io.EOF. Close releases
// underlying resources and cancels any in flight transfer.
type BatchIterator interface {
	Next(ctx context.Context) (*internal.Batch, error)
	Close() error
}

// ReadFull drains a whole stream into memory. Convenience for small
// streams and tests; production paths iterate batches.
func ReadFull(ctx context.Context, src Source, stream string) ([]internal.Row, error) {
	it, err := src.ReadBatches(ctx, stream, DefaultBatchSize)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var rows []internal.Row
	for {
		batch, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, batch.Rows...)
	}
}
