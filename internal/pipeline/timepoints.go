package pipeline

import "sort"

const timepointStagingFlush = 4096

// timeVal pairs an observed time with an arbitrary payload (a *model.Context
// for ctx streams, a float64 for metric streams).
type timeVal[T any] struct {
	time int64
	val  T
}

// disorderBuffer is a bounded-disorder sort buffer of capacity K+2: it holds
// elements in sorted order and, once full, yields its minimum as each new
// element arrives. A push whose time sorts before everything currently held
// would require more than K+2 slots to place correctly and is rejected.
type disorderBuffer[T any] struct {
	capacity int
	items    []timeVal[T]
}

func newDisorderBuffer[T any](k int) *disorderBuffer[T] {
	return &disorderBuffer[T]{capacity: k + 2}
}

// push inserts (t, v) in sorted position. If the buffer is at capacity and t
// sorts before every held element, the push is rejected (the stream has
// exceeded its declared disorder bound). Otherwise it returns any elements
// evicted to make room (there is at most one, since one element is admitted
// per call).
func (b *disorderBuffer[T]) push(t int64, v T) (evicted []timeVal[T], rejected bool) {
	i := sort.Search(len(b.items), func(i int) bool { return b.items[i].time > t })
	if len(b.items) >= b.capacity && i == 0 {
		return nil, true
	}
	b.items = append(b.items, timeVal[T]{})
	copy(b.items[i+1:], b.items[i:])
	b.items[i] = timeVal[T]{time: t, val: v}
	for len(b.items) > b.capacity {
		evicted = append(evicted, b.items[0])
		b.items = b.items[1:]
	}
	return evicted, false
}

// drain empties the buffer, returning its contents in sorted order.
func (b *disorderBuffer[T]) drain() []timeVal[T] {
	out := b.items
	b.items = nil
	return out
}

// TimepointsData is the per-(thread, stream) timepoint state: a
// disorder-tolerant sort buffer feeding a staging vector that flushes in
// batches, escalating to an unbounded mode when the declared bound proves
// too tight.
//
// Not safe for concurrent use without external locking; the Pipeline holds
// one instance per (thread, stream) and serializes access through the
// Source's lock (Source-local state is single-writer).
type TimepointsData[T any] struct {
	bound     int
	buf       *disorderBuffer[T]
	staging   []timeVal[T]
	unbounded bool
	collected []timeVal[T]
}

// NewTimepointsData constructs a stream with initial disorder bound k (0 if
// the Source declared none).
func NewTimepointsData[T any](k int) *TimepointsData[T] {
	return &TimepointsData[T]{bound: k, buf: newDisorderBuffer[T](k)}
}

// Push enqueues one observation. ready is a batch to flush to Sinks
// (non-nil only once it reaches timepointStagingFlush entries, or at
// Finalize); rewind reports that the stream violated its disorder bound and
// the caller must emit a rewindStart notification and ask the Source to
// replay the stream from the beginning.
func (d *TimepointsData[T]) Push(t int64, v T) (ready []timeVal[T], rewind bool) {
	if d.unbounded {
		d.collected = append(d.collected, timeVal[T]{time: t, val: v})
		return nil, false
	}

	evicted, rejected := d.buf.push(t, v)
	if rejected {
		d.buf.drain()
		d.staging = nil
		if d.bound < 1023 {
			d.bound = 1023
			d.buf = newDisorderBuffer[T](d.bound)
		} else {
			d.unbounded = true
			d.collected = nil
		}
		return nil, true
	}

	d.staging = append(d.staging, evicted...)
	if len(d.staging) >= timepointStagingFlush {
		ready = d.staging
		d.staging = nil
	}
	return ready, false
}

// Finalize flushes all remaining buffered/staged/collected data in sorted
// order, as done once at end-of-thread.
func (d *TimepointsData[T]) Finalize() []timeVal[T] {
	if d.unbounded {
		sort.Slice(d.collected, func(i, j int) bool { return d.collected[i].time < d.collected[j].time })
		out := d.collected
		d.collected = nil
		return out
	}
	out := append(d.staging, d.buf.drain()...)
	d.staging = nil
	return out
}

// Unbounded reports whether this stream escalated to unbounded-disorder
// mode, flipping on the first inversion past the largest bound and emitting
// a warning.
func (d *TimepointsData[T]) Unbounded() bool { return d.unbounded }

// Bound reports the stream's current disorder bound (the initial k, then
// 1023 after the first rejection if k was smaller, then irrelevant once
// Unbounded).
func (d *TimepointsData[T]) Bound() int { return d.bound }
