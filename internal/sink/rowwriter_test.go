package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tinyRow struct {
	Value int64 `parquet:"value"`
}

func TestRowWriterFlushesOnSizeOverflow(t *testing.T) {
	target := newMemTarget()
	// maxSizeMB=0 means maxSizeBytes=0: every Add after the first overflows
	// and triggers a flush first.
	w := NewRowWriter(target, "dir", "rows", 0, func(*tinyRow) int64 { return 1 })

	require.NoError(t, w.Add(tinyRow{Value: 1}))
	require.NoError(t, w.Add(tinyRow{Value: 2}))
	require.NoError(t, w.Flush())

	assert.Len(t, target.names(), 2)
}

func TestRowWriterFlushIsNoopWhenEmpty(t *testing.T) {
	target := newMemTarget()
	w := NewRowWriter(target, "dir", "rows", 64, func(*tinyRow) int64 { return 1 })
	require.NoError(t, w.Flush())
	assert.Empty(t, target.names())
}

func TestRowWriterRoundTrips(t *testing.T) {
	target := newMemTarget()
	w := NewRowWriter(target, "dir", "rows", 64, func(*tinyRow) int64 { return 8 })
	require.NoError(t, w.Add(tinyRow{Value: 42}))
	require.NoError(t, w.Flush())

	names := target.names()
	require.Len(t, names, 1)
	rows := readRows[tinyRow](t, target.get(names[0]))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(42), rows[0].Value)
}
