package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbolytics/porter/internal"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const usersCSV = `id,name,email
1,alice,alice@example.com
2,bob,bob@example.com
3,carol,carol@example.com
4,dan,dan@example.com
5,erin,erin@example.com
`

func TestFileSourceDiscover(t *testing.T) {
	path := writeFile(t, "users.csv", usersCSV)
	src := NewFileSource(path)

	streams, err := src.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 1)

	assert.Equal(t, "users", streams[0].Name)
	assert.Equal(t, []string{"id", "name", "email"}, streams[0].Columns)
	assert.Equal(t, map[string]string{
		"id":    "string",
		"name":  "string",
		"email": "string",
	}, streams[0].Schema)
}

func TestFileSourceDiscoverNotFound(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "missing.csv"))

	_, err := src.Discover(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileSourceDiscoverEmptyFile(t *testing.T) {
	path := writeFile(t, "empty.csv", "")
	src := NewFileSource(path)

	streams, err := src.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, streams)
}

func TestFileSourceBatchContiguity(t *testing.T) {
	path := writeFile(t, "users.csv", usersCSV)
	src := NewFileSource(path)
	ctx := context.Background()

	for _, batchSize := range []int{1, 2, 3, 5, 25} {
		t.Run(fmt.Sprintf("batch size %d", batchSize), func(t *testing.T) {
			it, err := src.ReadBatches(ctx, "users", batchSize)
			require.NoError(t, err)
			defer it.Close()

			var (
				offset int64
				total  int
			)
			for {
				batch, err := it.Next(ctx)
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				require.NotEmpty(t, batch.Rows)
				assert.LessOrEqual(t, len(batch.Rows), batchSize)

				assert.Equal(t, "users", batch.Provenance.Stream)
				assert.Equal(t, offset, batch.Provenance.RowOffset,
					"each batch starts where the previous one ended")
				assert.Equal(t, len(batch.Rows), batch.Provenance.RowCount)
				assert.False(t, batch.Provenance.Timestamp.IsZero())

				offset += int64(len(batch.Rows))
				total += len(batch.Rows)
			}
			assert.Equal(t, 5, total)
		})
	}
}

func TestFileSourceRowValues(t *testing.T) {
	path := writeFile(t, "users.csv", usersCSV)
	src := NewFileSource(path)
	ctx := context.Background()

	rows, err := ReadFull(ctx, src, "users")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, internal.Row{"id": "1", "name": "alice", "email": "alice@example.com"}, rows[0])
	assert.Equal(t, internal.Row{"id": "5", "name": "erin", "email": "erin@example.com"}, rows[4])
}

func TestFileSourceRawBytes(t *testing.T) {
	path := writeFile(t, "pair.csv", "a,b\nxx,yyy\n")
	src := NewFileSource(path)

	it, err := src.ReadBatches(context.Background(), "pair", 10)
	require.NoError(t, err)
	defer it.Close()

	batch, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), batch.RawBytes, "sum of cell byte lengths")
}

func TestFileSourceShortRows(t *testing.T) {
	path := writeFile(t, "sparse.csv", "a,b,c\n1,2\n3,4,5\n")
	src := NewFileSource(path)

	rows, err := ReadFull(context.Background(), src, "sparse")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	_, ok := rows[0]["c"]
	assert.False(t, ok, "missing trailing column stays absent")
	assert.Equal(t, "5", rows[1]["c"])
}

func TestFileSourceUnknownStream(t *testing.T) {
	path := writeFile(t, "users.csv", usersCSV)
	src := NewFileSource(path)

	_, err := src.ReadBatches(context.Background(), "orders", 10)
	assert.ErrorContains(t, err, `unknown stream "orders"`)
}

func TestFileSourceIteratorIsNotRestartable(t *testing.T) {
	path := writeFile(t, "users.csv", usersCSV)
	src := NewFileSource(path)
	ctx := context.Background()

	it, err := src.ReadBatches(ctx, "users", 100)
	require.NoError(t, err)
	defer it.Close()

	_, err = it.Next(ctx)
	require.NoError(t, err)
	_, err = it.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	_, err = it.Next(ctx)
	assert.ErrorIs(t, err, io.EOF, "an exhausted iterator stays exhausted")

	// a fresh call re-reads from the start
	again, err := src.ReadBatches(ctx, "users", 100)
	require.NoError(t, err)
	defer again.Close()

	batch, err := again.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), batch.Provenance.RowOffset)
	assert.Len(t, batch.Rows, 5)
}

func TestFileSourceNextHonorsContext(t *testing.T) {
	path := writeFile(t, "users.csv", usersCSV)
	src := NewFileSource(path)

	it, err := src.ReadBatches(context.Background(), "users", 10)
	require.NoError(t, err)
	defer it.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = it.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
