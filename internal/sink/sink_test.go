package sink

import (
	"sync"
	"testing"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/finalizer"
	"github.com/hpcpipeline/profcore/internal/model"
	"github.com/hpcpipeline/profcore/internal/pipeline"
)

// memTarget is an in-memory ParquetTarget, recording every write by name.
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

func (t *memTarget) names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.files))
	for n := range t.files {
		out = append(out, n)
	}
	return out
}

func (t *memTarget) get(name string) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.files[name]
}

// fakeSource emits one thread with a two-deep call stack and one summed
// metric, recording a single sample of value 7 at the leaf context.
type fakeSource struct {
	module *model.Module
	metric *model.Metric
	thread *model.Thread
}

func (s *fakeSource) Provides() dataclass.Class {
	return dataclass.Attributes | dataclass.References | dataclass.Threads | dataclass.Contexts | dataclass.Metrics
}

func (s *fakeSource) FinalizeRequest(class dataclass.Class) dataclass.Class { return class }

func (s *fakeSource) Read(h *pipeline.Handle, mask dataclass.Class) error {
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

// buildAndRun wires a fakeSource plus DenseIds through settings (which
// should already have its Sinks registered) and runs the pipeline to
// completion.
func buildAndRun(t *testing.T, settings *pipeline.Settings) *pipeline.ProfilePipeline {
	t.Helper()
	p := pipeline.Build(settings)
	p.Configure()
	p.Freeze()
	if err := p.Run(); err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}
	return p
}

func newFakeSettings(src *fakeSource) *pipeline.Settings {
	return pipeline.NewSettings(1).
		AddSource(src).
		AddFinalizer(finalizer.NewDenseIds())
}
