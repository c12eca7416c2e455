package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
)

// relationClassifier splices a function-scoped Context below parent via a
// call edge for any point Scope, rewriting the terminal edge to enclosure —
// the shape scenario S2 exercises: call->func(f) as the relation Context,
// enclosure->point(...) as the flat Context.
type relationClassifier struct {
	BaseFinalizer

	p *ProfilePipeline

	mu  sync.Mutex
	fns map[*model.Module]*model.Function
}

func newRelationClassifier() *relationClassifier {
	return &relationClassifier{fns: make(map[*model.Module]*model.Function)}
}

func (c *relationClassifier) NotifyPipeline(p *ProfilePipeline) { c.p = p }

func (c *relationClassifier) functionFor(m *model.Module) *model.Function {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.fns[m]; ok {
		return f
	}
	f := &model.Function{Module: m, Name: "f"}
	c.fns[m] = f
	return f
}

func (c *relationClassifier) Classify(parent *model.Context, ns *model.NestedScope) (relCtx, flatCtx *model.Context, ok bool) {
	if ns.Scope.Kind != model.ScopePoint {
		return nil, nil, false
	}
	rel, _ := parent.Ensure(c.p.Registry().Arena(), model.NS(model.RelCall, model.FunctionScope(c.functionFor(ns.Scope.Module))))
	ns.Relation = model.RelEnclosure
	return rel, rel, true
}

// relationSource emits a single point sample at (M,0x200), accumulating one
// relation-bit Metric and one ordinary Metric on it.
type relationSource struct {
	module     *model.Module
	relMetric  *model.Metric
	flatMetric *model.Metric
	thread     *model.Thread
}

func (s *relationSource) Provides() dataclass.Class {
	return dataclass.Attributes | dataclass.References | dataclass.Threads | dataclass.Contexts | dataclass.Metrics
}

func (s *relationSource) FinalizeRequest(class dataclass.Class) dataclass.Class { return class }

func (s *relationSource) Read(h *Handle, mask dataclass.Class) error {
	if mask.Has(dataclass.Attributes) {
		s.module = h.Module("/bin/prog")
	}
	if mask.Has(dataclass.Metrics) && s.relMetric == nil {
		s.relMetric = h.Metric(model.MetricSettings{
			Name:       "rel",
			Scopes:     model.MetricScopeSet(model.ScopePointMetric),
			IsRelation: true,
		})
		s.relMetric.AddPartial(model.Partial{Combinator: model.CombSum})
		h.FreezeMetric(s.relMetric)

		s.flatMetric = h.Metric(model.MetricSettings{
			Name:   "flat",
			Scopes: model.MetricScopeSet(model.ScopePointMetric),
		})
		s.flatMetric.AddPartial(model.Partial{Combinator: model.CombSum})
		h.FreezeMetric(s.flatMetric)
	}
	if !mask.AnyOf(dataclass.Contexts | dataclass.Metrics) {
		return nil
	}
	if s.thread == nil {
		s.thread, _ = h.NewThread(model.ThreadAttributes{})
	}
	root := h.p.registry.Arena().Root()
	relCtx, flatCtx := h.Context(root, model.NS(model.RelCall, model.PointScope(s.module, 0x200)))
	if mask.Has(dataclass.Metrics) {
		h.AccumulateTo(s.thread, relCtx, flatCtx, s.relMetric, 0, 10)
		h.AccumulateTo(s.thread, relCtx, flatCtx, s.flatMetric, 0, 20)
	}
	return nil
}

// fakeSource emits one thread with one Context and one Metric sample.
type fakeSource struct {
	module *model.Module
	metric *model.Metric
	thread *model.Thread
}

func (s *fakeSource) Provides() dataclass.Class {
	return dataclass.Attributes | dataclass.References | dataclass.Threads | dataclass.Contexts | dataclass.Metrics
}

func (s *fakeSource) FinalizeRequest(class dataclass.Class) dataclass.Class { return class }

func (s *fakeSource) Read(h *Handle, mask dataclass.Class) error {
	if mask.Has(dataclass.Attributes) {
		s.module = h.Module("/bin/prog")
	}
	if mask.Has(dataclass.Metrics) && s.metric == nil {
		s.metric = h.Metric(model.MetricSettings{
			Name:   "time",
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
	root := h.p.registry.Arena().Root()
	relCtx, ctx := h.Context(root, model.NS(model.RelCall, model.PointScope(s.module, 0x10)))
	if mask.Has(dataclass.Metrics) {
		h.AccumulateTo(s.thread, relCtx, ctx, s.metric, 0, 42)
	}
	return nil
}

type fakeSink struct {
	BaseSink

	mu       sync.Mutex
	contexts []*model.Context
	metrics  []*model.Metric
	wrote    bool
}

func (s *fakeSink) Accepts() dataclass.Class {
	return dataclass.Attributes | dataclass.References | dataclass.Threads | dataclass.Contexts | dataclass.Metrics
}

func (s *fakeSink) NotifyContext(c *model.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = append(s.contexts, c)
}

func (s *fakeSink) NotifyMetric(m *model.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, m)
}

func (s *fakeSink) Write() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wrote = true
	return nil
}

func TestPipelineEndToEnd(t *testing.T) {
	src := &fakeSource{}
	sink := &fakeSink{}

	settings := NewSettings(4)
	settings.AddSource(src)
	settings.AddSink(sink)

	p := Build(settings)
	p.Configure()
	p.Freeze()
	err := p.Run()
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, sink.wrote)
	assert.Len(t, sink.metrics, 1)
	// root context + the one point context
	assert.GreaterOrEqual(t, len(sink.contexts), 2)

	var leaf *model.Context
	for _, c := range sink.contexts {
		if c.Edge().Relation == model.RelCall {
			leaf = c
		}
	}
	require.NotNil(t, leaf)
	slots := leaf.StatisticsFor(sink.metrics[0])
	assert.InDelta(t, 42.0, slots[0].Value(), 1e-9)
}

// TestRelationRoutingLandsOnRelCtx mirrors scenario S2: a classification
// Finalizer inserts call->func(f) then rewrites the terminal edge to
// enclosure->point(...); a relation-bit Metric's accumulation must land on
// func(f) (the relation Context), and an ordinary Metric's must land on the
// terminal point Context.
func TestRelationRoutingLandsOnRelCtx(t *testing.T) {
	src := &relationSource{}
	sink := &fakeSink{}
	classifier := newRelationClassifier()

	settings := NewSettings(1)
	settings.AddSource(src)
	settings.AddFinalizer(classifier)
	settings.AddSink(sink)

	p := Build(settings)
	p.Configure()
	p.Freeze()
	require.NoError(t, p.Run())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.metrics, 2)

	var relMetric, flatMetric *model.Metric
	for _, m := range sink.metrics {
		if m.Settings.IsRelation {
			relMetric = m
		} else {
			flatMetric = m
		}
	}
	require.NotNil(t, relMetric)
	require.NotNil(t, flatMetric)

	var funcCtx, pointCtx *model.Context
	for _, c := range sink.contexts {
		switch c.Edge().Scope.Kind {
		case model.ScopeFunction:
			funcCtx = c
		case model.ScopePoint:
			pointCtx = c
		}
	}
	require.NotNil(t, funcCtx)
	require.NotNil(t, pointCtx)
	assert.Equal(t, model.RelCall, funcCtx.Edge().Relation)
	assert.Equal(t, model.RelEnclosure, pointCtx.Edge().Relation)

	relSlots := funcCtx.StatisticsFor(relMetric)
	assert.InDelta(t, 10.0, relSlots[0].Value(), 1e-9)
	assert.Zero(t, funcCtx.StatisticsFor(flatMetric)[0].Value())

	flatSlots := pointCtx.StatisticsFor(flatMetric)
	assert.InDelta(t, 20.0, flatSlots[0].Value(), 1e-9)
	assert.Zero(t, pointCtx.StatisticsFor(relMetric)[0].Value())
}
