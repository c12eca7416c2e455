package sink

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pq "github.com/parquet-go/parquet-go"
)

// readRows opens a parquet-encoded blob and reads back every row of type T.
func readRows[T any](t *testing.T, data []byte) []T {
	t.Helper()
	file, err := pq.OpenFile(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	reader := pq.NewGenericReader[T](file)
	defer reader.Close()

	rows := make([]T, file.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		require.NoError(t, err)
	}
	return rows[:n]
}

func findFile(names []string, prefix string) string {
	for _, n := range names {
		if len(n) >= len(prefix) && n[:len(prefix)] == prefix {
			return n
		}
	}
	return ""
}

func TestMetaDBWritesAllTables(t *testing.T) {
	target := newMemTarget()
	metaDB := NewMetaDB(target, "meta")

	src := &fakeSource{}
	settings := newFakeSettings(src).AddSink(metaDB)
	buildAndRun(t, settings)

	require.NoError(t, metaDB.Write())

	names := target.names()
	for _, want := range []string{"modules", "contexts", "metrics", "threads"} {
		assert.NotEmpty(t, findFile(names, "meta/"+want), "expected a file under meta/%s-*.parquet, got %v", want, names)
	}
}

func TestMetaDBContextRowsFormASingleRoot(t *testing.T) {
	target := newMemTarget()
	metaDB := NewMetaDB(target, "meta")

	src := &fakeSource{}
	settings := newFakeSettings(src).AddSink(metaDB)
	p := buildAndRun(t, settings)
	require.NoError(t, metaDB.Write())

	name := findFile(target.names(), "meta/contexts")
	require.NotEmpty(t, name)
	rows := readRows[ContextRow](t, target.get(name))
	assert.Equal(t, len(p.Registry().Arena().Snapshot()), len(rows))

	roots := 0
	for _, r := range rows {
		if r.ParentID == -1 {
			roots++
		}
	}
	assert.Equal(t, 1, roots)
}
