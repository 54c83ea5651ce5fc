package internal

// Row is a single record pulled from a source, keyed by column name.
// Sources normalize every value to its string form; typed interpretation
// happens downstream of ingestion.
type Row map[string]string

// Clone returns a copy safe to mutate without aliasing the source batch.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
