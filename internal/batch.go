package internal

import "time"

// Provenance records where a batch of rows came from. Stream, RowOffset
// and RowCount are always set; the object fields only for object store
// reads. RowOffset is the zero based index of the first row within its
// stream, so consecutive batches satisfy
// next.RowOffset == prev.RowOffset + prev.RowCount.
type Provenance struct {
	Stream        string    `json:"stream"`
	RowOffset     int64     `json:"rowOffset"`
	RowCount      int       `json:"rowCount"`
	Bucket        string    `json:"bucket,omitempty"`
	Key           string    `json:"key,omitempty"`
	ContentLength int64     `json:"contentLength,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Batch is a bounded run of rows from a single stream. RawBytes is the
// approximate byte span consumed from the source to produce the rows,
// kept for throughput accounting.
type Batch struct {
	Rows       []Row
	RawBytes   int64
	Provenance Provenance
}

func (b *Batch) Len() int {
	return len(b.Rows)
}
