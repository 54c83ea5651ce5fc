package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/turbolytics/porter/internal"
)

// describeCSV infers a stream descriptor from a header row. Every
// column is typed string; interpretation happens downstream.
func describeCSV(name string, header []string) StreamDescriptor {
	schema := make(map[string]string, len(header))
	for _, col := range header {
		schema[col] = "string"
	}
	return StreamDescriptor{
		Name:    name,
		Columns: header,
		Schema:  schema,
	}
}

// csvBatcher folds parsed csv records into bounded batches. Both
// sources share it; only the byte transport underneath differs.
type csvBatcher struct {
	r         *csv.Reader
	stream    string
	batchSize int
	columns   []string
	offset    int64
	done      bool
}

// newCSVBatcher consumes the header row immediately. An empty input
// yields a batcher that is already exhausted.
func newCSVBatcher(r io.Reader, stream string, batchSize int) (*csvBatcher, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	cr := csv.NewReader(r)
	// rows may carry fewer fields than the header; missing columns
	// become nulls at persistence
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return &csvBatcher{stream: stream, batchSize: batchSize, done: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s header: %w", stream, err)
	}

	return &csvBatcher{
		r:         cr,
		stream:    stream,
		batchSize: batchSize,
		columns:   header,
	}, nil
}

// next returns the following batch or io.EOF once the input is
// exhausted. Consecutive batches tile the stream: each starts where
// the previous one ended.
func (b *csvBatcher) next() (*internal.Batch, error) {
	if b.done {
		return nil, io.EOF
	}

	batch := &internal.Batch{
		Provenance: internal.Provenance{
			Stream:    b.stream,
			RowOffset: b.offset,
			Timestamp: time.Now().UTC(),
		},
	}

	for len(batch.Rows) < b.batchSize {
		values, err := b.r.Read()
		if err == io.EOF {
			b.done = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", b.stream, err)
		}

		row := make(internal.Row, len(b.columns))
		for i, col := range b.columns {
			if i < len(values) {
				row[col] = values[i]
			}
		}
		for _, v := range values {
			batch.RawBytes += int64(len(v))
		}
		batch.Rows = append(batch.Rows, row)
	}

	if len(batch.Rows) == 0 {
		return nil, io.EOF
	}
	batch.Provenance.RowCount = len(batch.Rows)
	b.offset += int64(len(batch.Rows))
	return batch, nil
}
