package parquet

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/turbolytics/porter/internal"
)

// Preserver renders rows into a single in-memory parquet file. One
// preserver produces one file; Flush finalizes the footer and returns
// the bytes, after which the preserver is spent.
type Preserver struct {
	schema Schema
	file   *buffer.BufferFile
	writer *writer.CSVWriter
	rows   int
}

func NewPreserver(schema Schema) (*Preserver, error) {
	f := buffer.NewBufferFile()
	w, err := writer.NewCSVWriter(schema.ToGoParquetSchema(), f, 1)
	if err != nil {
		return nil, fmt.Errorf("initializing parquet writer: %w", err)
	}

	return &Preserver{
		schema: schema,
		file:   f,
		writer: w,
	}, nil
}

func (p *Preserver) Preserve(row internal.Row) error {
	if err := p.writer.WriteString(p.schema.RowToParquetRow(row)); err != nil {
		return fmt.Errorf("writing parquet row: %w", err)
	}
	p.rows++
	return nil
}

func (p *Preserver) Rows() int {
	return p.rows
}

func (p *Preserver) Flush() ([]byte, error) {
	if err := p.writer.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalizing parquet file: %w", err)
	}
	return p.file.Bytes(), nil
}
