package source

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/finalizer"
	"github.com/hpcpipeline/profcore/internal/model"
	"github.com/hpcpipeline/profcore/internal/pipeline"
	"github.com/hpcpipeline/profcore/internal/sink"
)

// memTarget is an in-memory ParquetTarget/blob sink for tests.
type memTarget struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemTarget() *memTarget { return &memTarget{files: make(map[string][]byte)} }

func (t *memTarget) WriteFile(name string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[name] = append([]byte(nil), data...)
	return nil
}

func (t *memTarget) get(name string) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.files[name]
}

// producerSource emits one thread with a two-deep call stack and a single
// summed metric, to exercise the full references/attributes/contexts packed
// round trip.
type producerSource struct {
	module *model.Module
	metric *model.Metric
	thread *model.Thread
}

func (s *producerSource) Provides() dataclass.Class {
	return dataclass.Attributes | dataclass.References | dataclass.Threads | dataclass.Contexts | dataclass.Metrics
}

func (s *producerSource) FinalizeRequest(class dataclass.Class) dataclass.Class { return class }

func (s *producerSource) Read(h *pipeline.Handle, mask dataclass.Class) error {
	if mask.Has(dataclass.Attributes) {
		s.module = h.Module("/bin/prog")
	}
	if mask.Has(dataclass.Metrics) && s.metric == nil {
		s.metric = h.Metric(model.MetricSettings{
			Name:   "cycles",
			Scopes: model.MetricScopeSet(model.ScopePointMetric),
		})
		s.metric.AddPartial(model.Partial{Combinator: model.CombSum})
		h.FreezeMetric(s.metric)
	}
	if !mask.AnyOf(dataclass.Contexts | dataclass.Metrics) {
		return nil
	}
	if s.thread == nil {
		s.thread, _ = h.NewThread(model.ThreadAttributes{})
	}
	root := h.Root()
	_, mid := h.Context(root, model.NS(model.RelCall, model.PointScope(s.module, 0x10)))
	relCtx, leaf := h.Context(mid, model.NS(model.RelCall, model.PointScope(s.module, 0x20)))
	if mask.Has(dataclass.Metrics) {
		h.AccumulateTo(s.thread, relCtx, leaf, s.metric, 0, 7)
	}
	return nil
}

func TestPackedSourceRoundTripsProducerPipeline(t *testing.T) {
	target := newMemTarget()

	producer := &producerSource{}
	packer := sink.NewIdPacker(target)
	settings := pipeline.NewSettings(1).
		AddSource(producer).
		AddFinalizer(finalizer.NewDenseIds()).
		AddSink(packer)

	p := pipeline.Build(settings)
	p.Configure()
	p.Freeze()
	require.NoError(t, p.Run())

	references := target.get("references.avro")
	attributes := target.get("attributes.avro")
	contexts := target.get("contexts.bin")
	require.NotEmpty(t, references)
	require.NotEmpty(t, attributes)
	require.NotEmpty(t, contexts)

	replay := &PackedSource{References: references, Attributes: attributes, Contexts: contexts}
	assert.Equal(t, dataclass.References|dataclass.Attributes|dataclass.Contexts, replay.Provides())

	settings2 := pipeline.NewSettings(1).
		AddSource(replay).
		AddFinalizer(finalizer.NewDenseIds())
	p2 := pipeline.Build(settings2)
	p2.Configure()
	p2.Freeze()
	require.NoError(t, p2.Run())

	assert.Equal(t, 1, p2.Registry().ModuleCount())
	assert.Equal(t, 1, p2.Registry().MetricCount())
	assert.GreaterOrEqual(t, len(p2.Registry().Arena().Snapshot()), 2)
}
