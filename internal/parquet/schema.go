package parquet

import (
	"fmt"
	"strings"

	"github.com/turbolytics/porter/internal"
)

type Field struct {
	Name           string `yaml:"name"`
	Type           string `yaml:"type"`
	ConvertedType  string `yaml:"converted_type,omitempty"`
	RepetitionType string `yaml:"repetition_type,omitempty"`
}

type Schema []Field

// SchemaFromColumns builds an all-string schema in column order. CSV
// sources carry no type information, so every field is an optional
// UTF8 byte array and short rows surface as nulls.
func SchemaFromColumns(columns []string) Schema {
	s := make(Schema, 0, len(columns))
	for _, name := range columns {
		s = append(s, Field{
			Name:           name,
			Type:           "BYTE_ARRAY",
			ConvertedType:  "UTF8",
			RepetitionType: "OPTIONAL",
		})
	}
	return s
}

func (s Schema) ToGoParquetSchema() []string {
	schema := make([]string, len(s))
	for i, field := range s {
		parts := []string{
			fmt.Sprintf("name=%s", field.Name),
			fmt.Sprintf("type=%s", field.Type),
		}
		if field.ConvertedType != "" {
			parts = append(parts, fmt.Sprintf("convertedtype=%s", field.ConvertedType))
		}
		if field.RepetitionType != "" {
			parts = append(parts, fmt.Sprintf("repetitiontype=%s", field.RepetitionType))
		}
		schema[i] = strings.Join(parts, ", ")
	}

	return schema
}

// RowToParquetRow projects a row onto the schema's field order. Fields
// absent from the row become nil, which the writer renders as null.
func (s Schema) RowToParquetRow(row internal.Row) []*string {
	rec := make([]*string, len(s))
	for i, field := range s {
		if v, ok := row[field.Name]; ok {
			value := v
			rec[i] = &value
		}
	}
	return rec
}
