package parquet

import (
	"fmt"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// ParseCreateTableStmt derives a parquet schema from a CREATE TABLE
// statement.
func ParseCreateTableStmt(sql string) (Schema, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parsing statement: %w", err)
	}

	ddl, ok := stmt.(*sqlparser.DDL)
	if !ok || ddl.Action != sqlparser.CreateStr || ddl.TableSpec == nil {
		return nil, fmt.Errorf("statement is not a create table statement")
	}

	var schema Schema
	for _, col := range ddl.TableSpec.Columns {
		f, err := columnToField(col)
		if err != nil {
			return nil, err
		}
		schema = append(schema, f)
	}

	return schema, nil
}

func columnToField(col *sqlparser.ColumnDefinition) (Field, error) {
	f := Field{
		Name: col.Name.String(),
	}

	switch strings.ToLower(col.Type.Type) {
	case "smallint", "int", "integer", "bigint":
		f.Type = "INT64"
	case "char", "character", "varchar", "text":
		f.Type = "BYTE_ARRAY"
		f.ConvertedType = "UTF8"
	case "timestamp", "datetime":
		f.Type = "INT64"
		f.ConvertedType = "TIMESTAMP_MILLIS"
	case "date":
		f.Type = "INT32"
		f.ConvertedType = "DATE"
	case "numeric", "decimal", "float", "double":
		f.Type = "DOUBLE"
	case "bool", "boolean":
		f.Type = "BOOLEAN"
	default:
		return Field{}, fmt.Errorf("unsupported data type: %q", col.Type.Type)
	}

	if !col.Type.NotNull {
		f.RepetitionType = "OPTIONAL"
	}

	return f, nil
}
