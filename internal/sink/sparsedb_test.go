package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSparseDBWritesOneRowPerWrittenCell(t *testing.T) {
	target := newMemTarget()
	sparseDB := NewSparseDB(target, "sparse")

	src := &fakeSource{}
	settings := newFakeSettings(src).AddSink(sparseDB)
	buildAndRun(t, settings)

	require.NoError(t, sparseDB.Write())

	name := findFile(target.names(), "sparse/sparse")
	require.NotEmpty(t, name, "expected a sparse/sparse-*.parquet file, got %v", target.names())

	rows := readRows[SparseValueRow](t, target.get(name))
	require.Len(t, rows, 1)
	assert.InDelta(t, 7.0, rows[0].Value, 1e-9)
	assert.Equal(t, int32(0), rows[0].Partial)
}

func TestSparseDBWriteIsIdempotent(t *testing.T) {
	target := newMemTarget()
	sparseDB := NewSparseDB(target, "sparse")

	src := &fakeSource{}
	settings := newFakeSettings(src).AddSink(sparseDB)
	buildAndRun(t, settings)

	require.NoError(t, sparseDB.Write())
	require.NoError(t, sparseDB.Write())

	// flushLocked no-ops on an empty batch, so a second Write call adds no
	// further file.
	count := 0
	for _, n := range target.names() {
		if len(n) >= len("sparse/sparse") && n[:len("sparse/sparse")] == "sparse/sparse" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
