package sink

import (
	"bytes"
	"fmt"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	pq "github.com/parquet-go/parquet-go"

	"github.com/hpcpipeline/profcore/pkg/archive/parquet"
)

// RowWriter batches rows of a single parquet row type and flushes them as
// numbered files under a directory prefix once the batch's estimated size
// crosses maxSizeBytes. It is generic over the row type via a type
// parameter, and over size estimation via a callback, so any row struct
// can be batched without a hardcoded field list.
type RowWriter[T any] struct {
	target       parquet.ParquetTarget
	prefix       string
	namePrefix   string
	maxSizeBytes int64
	estimate     func(*T) int64
	sort         []pq.SortingOption

	mu          sync.Mutex
	rows        []T
	currentSize int64
	fileCounter int
}

// NewRowWriter builds a RowWriter writing under dir/namePrefix-NNN.parquet
// files to target, flushing once the batch's estimated size exceeds
// maxSizeMB. estimate is called once per row to maintain the running size
// estimate; sortBy are optional parquet sorting columns applied per file.
func NewRowWriter[T any](target parquet.ParquetTarget, dir, namePrefix string, maxSizeMB int, estimate func(*T) int64, sortBy ...pq.SortingOption) *RowWriter[T] {
	return &RowWriter[T]{
		target:       target,
		prefix:       dir,
		namePrefix:   namePrefix,
		maxSizeBytes: int64(maxSizeMB) * 1024 * 1024,
		estimate:     estimate,
		sort:         sortBy,
	}
}

// Add appends row to the batch, flushing first if it would overflow the
// configured size budget.
func (w *RowWriter[T]) Add(row T) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	size := w.estimate(&row)
	if w.currentSize+size > w.maxSizeBytes && len(w.rows) > 0 {
		if err := w.flushLocked(); err != nil {
			return err
		}
	}
	w.rows = append(w.rows, row)
	w.currentSize += size
	return nil
}

// Flush writes the current batch to a new file, if non-empty.
func (w *RowWriter[T]) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *RowWriter[T]) flushLocked() error {
	if len(w.rows) == 0 {
		return nil
	}
	w.fileCounter++
	name := fmt.Sprintf("%s/%s-%03d.parquet", w.prefix, w.namePrefix, w.fileCounter)

	var buf bytes.Buffer
	opts := []pq.WriterOption{pq.Compression(&pq.Zstd)}
	if len(w.sort) > 0 {
		opts = append(opts, pq.SortingWriterConfig(pq.SortingColumns(w.sort...)))
	}
	writer := pq.NewGenericWriter[T](&buf, opts...)
	if _, err := writer.Write(w.rows); err != nil {
		return fmt.Errorf("rowwriter: write %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("rowwriter: close %s: %w", name, err)
	}

	if err := w.target.WriteFile(name, buf.Bytes()); err != nil {
		return fmt.Errorf("rowwriter: %w", err)
	}
	cclog.Infof("[SINK]> wrote %s (%d rows, %d bytes)", name, len(w.rows), buf.Len())

	w.rows = w.rows[:0]
	w.currentSize = 0
	return nil
}
