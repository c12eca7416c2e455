package sink

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hpcpipeline/profcore/internal/collective"
	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
	"github.com/hpcpipeline/profcore/internal/pipeline"
)

// metricTupleSize is the wire size of one raw accumulator tuple: a dense
// context id, a dense (metric-base + partial-index) id, and the raw
// float64 value, all fixed-width so reduction can combine byte blobs
// without a parse step per hop.
const metricTupleSize = 8 + 8 + 8

func encodeMetricTuples(vals map[[2]int64]float64) []byte {
	out := make([]byte, 0, len(vals)*metricTupleSize)
	for key, v := range vals {
		var tuple [metricTupleSize]byte
		binary.BigEndian.PutUint64(tuple[0:8], uint64(key[0]))
		binary.BigEndian.PutUint64(tuple[8:16], uint64(key[1]))
		binary.BigEndian.PutUint64(tuple[16:24], math.Float64bits(v))
		out = append(out, tuple[:]...)
	}
	return out
}

func decodeMetricTuples(blob []byte) map[[2]int64]float64 {
	out := make(map[[2]int64]float64, len(blob)/metricTupleSize)
	for off := 0; off+metricTupleSize <= len(blob); off += metricTupleSize {
		ctxID := int64(binary.BigEndian.Uint64(blob[off : off+8]))
		metricID := int64(binary.BigEndian.Uint64(blob[off+8 : off+16]))
		v := math.Float64frombits(binary.BigEndian.Uint64(blob[off+16 : off+24]))
		out[[2]int64{ctxID, metricID}] = v
	}
	return out
}

// MetricSender packs every Context's locally-accumulated raw Partial
// values into fixed-width tuples and reduces them up a tree-shaped
// collective toward root, applying each Partial's declared Combinator at
// every merge step (associative, so partial results combine the same way
// a single rank's full value would). Only root's result is non-nil; see
// MetricReceiver for what happens to it there.
type MetricSender struct {
	pipeline.BaseSink

	p          *pipeline.ProfilePipeline
	collective collective.Collective

	result []byte // populated by Write, read by a paired MetricReceiver
}

func NewMetricSender(c collective.Collective) *MetricSender {
	return &MetricSender{collective: c}
}

func (*MetricSender) Accepts() dataclass.Class { return dataclass.Metrics | dataclass.Contexts }

func (*MetricSender) Requirements() dataclass.Extension { return dataclass.Identifier }

func (s *MetricSender) NotifyPipeline(p *pipeline.ProfilePipeline) { s.p = p }

// Result returns the post-reduction blob computed by the last Write call;
// nil on every rank but root.
func (s *MetricSender) Result() []byte { return s.result }

func (s *MetricSender) Write() error {
	combinators := make(map[int64]model.Combinator)
	vals := make(map[[2]int64]float64)

	for _, ctx := range s.p.Registry().Arena().Snapshot() {
		ctxID, ok := s.p.IdentifyContext(ctx)
		if !ok {
			continue
		}
		for _, m := range ctx.Metrics() {
			base, _, ok := s.p.IdentifyMetric(m)
			if !ok {
				continue
			}
			slots := ctx.StatisticsFor(m)
			for partial := range slots {
				// RawAccumulator doesn't expose whether a slot was ever
				// written, only its current Value (0 if untouched); for
				// CombSum that coincides with the identity element, so
				// sending it is harmless, but for CombMin/CombMax an
				// untouched slot can shadow a real negative/positive
				// extreme on the receiving side.
				metricID := int64(base + partial)
				combinators[metricID] = m.Partials[partial].Combinator
				vals[[2]int64{int64(ctxID), metricID}] = slots[partial].Value()
			}
		}
	}

	local := encodeMetricTuples(vals)
	combine := func(a, b []byte) []byte {
		merged := decodeMetricTuples(a)
		for k, v := range decodeMetricTuples(b) {
			if existing, ok := merged[k]; ok {
				merged[k] = combineValue(combinators[k[1]], existing, v)
			} else {
				merged[k] = v
			}
		}
		return encodeMetricTuples(merged)
	}

	result, err := s.collective.Reduce(context.Background(), local, combine, 0)
	if err != nil {
		return fmt.Errorf("metricsender: reduce: %w", err)
	}
	s.result = result
	return nil
}

func (*MetricSender) Help() (contributed bool, completed bool) { return false, true }

func combineValue(comb model.Combinator, a, b float64) float64 {
	switch comb {
	case model.CombMin:
		if b < a {
			return b
		}
		return a
	case model.CombMax:
		if b > a {
			return b
		}
		return a
	default:
		return a + b
	}
}

// MetricReceiver merges a paired MetricSender's post-reduction result back
// into root's own Contexts once the tree-shaped collective completes; a
// no-op on every rank but root, where Result() is nil.
type MetricReceiver struct {
	pipeline.BaseSink

	p      *pipeline.ProfilePipeline
	sender *MetricSender
}

func NewMetricReceiver(sender *MetricSender) *MetricReceiver {
	return &MetricReceiver{sender: sender}
}

func (*MetricReceiver) Accepts() dataclass.Class { return dataclass.Metrics | dataclass.Contexts }

func (r *MetricReceiver) NotifyPipeline(p *pipeline.ProfilePipeline) { r.p = p }

func (r *MetricReceiver) Write() error {
	blob := r.sender.Result()
	if blob == nil {
		return nil
	}

	contexts := make(map[int64]*model.Context, len(blob)/metricTupleSize)
	for _, ctx := range r.p.Registry().Arena().Snapshot() {
		if id, ok := r.p.IdentifyContext(ctx); ok {
			contexts[int64(id)] = ctx
		}
	}
	metricByBase := make(map[int64]*model.Metric)
	for _, m := range r.p.Registry().MetricsList() {
		if base, _, ok := r.p.IdentifyMetric(m); ok {
			metricByBase[int64(base)] = m
		}
	}

	for key, v := range decodeMetricTuples(blob) {
		ctx, ok := contexts[key[0]]
		if !ok {
			continue
		}
		m, partial, ok := resolveMetricID(metricByBase, key[1])
		if !ok {
			continue
		}
		ctx.StatisticsFor(m)[partial].Combine(m.Partials[partial].Combinator, v)
	}
	return nil
}

func (*MetricReceiver) Help() (contributed bool, completed bool) { return false, true }

// resolveMetricID finds the Metric owning dense id metricID and the
// Partial index within it, scanning each Metric's declared id block.
func resolveMetricID(byBase map[int64]*model.Metric, metricID int64) (*model.Metric, int, bool) {
	for base, m := range byBase {
		block := int64(m.IDBlockSize())
		if metricID >= base && metricID < base+block {
			return m, int(metricID - base), true
		}
	}
	return nil, 0, false
}
