package pipeline

import (
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
)

// Handle is the Source-facing view of the pipeline: the only way a Source
// touches shared state. One Handle exists per Source for the lifetime of
// the run; its mutex is the "Source.lock" in the pipeline's lock ordering
// (Source.lock < attrsLock < mergedThreadsLock).
type Handle struct {
	p   *ProfilePipeline
	src Source

	mu      sync.Mutex
	threads map[*model.Thread]*model.PerThreadTemporary

	ctxStreams    map[*model.Thread]*TimepointsData[*model.Context]
	metricStreams map[*model.Thread]map[*model.Metric]*TimepointsData[float64]
}

func newHandle(p *ProfilePipeline, src Source) *Handle {
	return &Handle{
		p:             p,
		src:           src,
		threads:       make(map[*model.Thread]*model.PerThreadTemporary),
		ctxStreams:    make(map[*model.Thread]*TimepointsData[*model.Context]),
		metricStreams: make(map[*model.Thread]map[*model.Metric]*TimepointsData[float64]),
	}
}

// runRead invokes the Source's Read under the Handle's lock, logging and
// discarding a reported error as a terminated-contribution, not a fatal run
// failure.
func (h *Handle) runRead(mask dataclass.Class) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.src.Read(h, mask); err != nil {
		cclog.Warnf("[SOURCE]> read failed, dropping remaining contribution: %v", err)
	}
}

// Root returns the global Context every Source builds its call-path chains
// down from.
func (h *Handle) Root() *model.Context { return h.p.registry.Arena().Root() }

// Module interns a Module by path and announces it to Sinks on first
// creation.
func (h *Handle) Module(path string) *model.Module {
	m, created := h.p.registry.Module(path)
	if created {
		for _, sink := range h.p.sinks {
			sink.NotifyModule(m)
		}
	}
	return m
}

// File interns a File by path and announces it to Sinks on first creation.
func (h *Handle) File(path string) *model.File {
	f, created := h.p.registry.File(path)
	if created {
		for _, sink := range h.p.sinks {
			sink.NotifyFile(f)
		}
	}
	return f
}

// Metric interns a Metric by settings and announces it to Sinks on first
// creation. The returned Metric is not yet frozen; the Source must call
// FreezeMetric once its Partials are fully declared.
func (h *Handle) Metric(settings model.MetricSettings) *model.Metric {
	m, created := h.p.registry.Metric(settings)
	if created {
		for _, sink := range h.p.sinks {
			sink.NotifyMetric(m)
		}
	}
	return m
}

// FreezeMetric freezes m (idempotent) and, on the call that actually froze
// it, runs every StatisticsAppender Finalizer over it before notifying
// Sinks.
func (h *Handle) FreezeMetric(m *model.Metric) {
	if !m.Freeze() {
		return
	}
	for _, f := range h.p.finalizers {
		if sa, ok := f.(StatisticsAppender); ok {
			sa.AppendStatistics(m)
		}
	}
}

// ExtraStatistic interns an ExtraStatistic and announces it to Sinks on
// first creation.
func (h *Handle) ExtraStatistic(settings model.ExtraStatisticSettings, formula *model.Expression) *model.ExtraStatistic {
	es, created := h.p.registry.ExtraStatistic(settings, formula)
	if created {
		for _, sink := range h.p.sinks {
			sink.NotifyExtraStatistic(es)
		}
	}
	return es
}

// Context ensures a child of parent under ns, first giving every Classifier
// Finalizer a chance to rewrite ns and splice in intermediate Contexts. It
// returns the relation-edge Context (nil if none applies) and the terminal
// flat Context, announcing any newly-created Context to Sinks exactly once.
func (h *Handle) Context(parent *model.Context, ns model.NestedScope) (relCtx, flatCtx *model.Context) {
	flatParent := parent
	for _, f := range h.p.finalizers {
		c, ok := f.(Classifier)
		if !ok {
			continue
		}
		rel, flat, matched := c.Classify(flatParent, &ns)
		if matched {
			relCtx, flatParent = rel, flat
			break
		}
	}

	child, firstTime := flatParent.Ensure(h.p.registry.Arena(), ns)
	if firstTime {
		for _, sink := range h.p.sinks {
			if h.p.resolved.sinkAccepts[sink].Has(dataclass.Contexts) {
				sink.NotifyContext(child)
			}
		}
	}
	return relCtx, child
}

// threadTemp returns the PerThreadTemporary for t, preferring the
// merged-thread registry when t's identity is non-empty and shared across
// Sources, else a Source-local temporary.
func (h *Handle) threadTemp(t *model.Thread) *model.PerThreadTemporary {
	if temp, ok := h.threads[t]; ok {
		return temp
	}
	var temp *model.PerThreadTemporary
	if t.Ready() {
		shared, sharedThread, created := h.p.mergedThreads.mergedThread(t.Attrs)
		if created {
			for _, sink := range h.p.sinks {
				sink.NotifyThread(sharedThread)
			}
		}
		temp = shared
		t = sharedThread
	} else {
		temp = model.NewPerThreadTemporary(t)
	}
	h.threads[t] = temp
	return temp
}

// NewThread registers a freshly observed Thread (and its PerThreadTemporary)
// with the pipeline, announcing it to Sinks.
func (h *Handle) NewThread(attrs model.ThreadAttributes) (*model.Thread, *model.PerThreadTemporary) {
	t := model.NewThread(attrs)
	temp := h.threadTemp(t)
	return t, temp
}

// AccumulateTo stages a raw sample value against (ctx, metric, partial) in
// the owning thread's PerThreadTemporary. relCtx is the relation-edge
// Context returned alongside flatCtx by the Context call that classified
// this sample (nil if classification didn't produce one); a Metric marked
// IsRelation accumulates onto relCtx instead of flatCtx.
func (h *Handle) AccumulateTo(thread *model.Thread, relCtx, flatCtx *model.Context, m *model.Metric, partial int, value float64) {
	ctx := flatCtx
	if m.Settings.IsRelation && relCtx != nil {
		ctx = relCtx
	}
	h.threadTemp(thread).AccumulateContext(ctx, m, partial, value)
}

// AddToReconstructionGroup pools a sample under (flowGraph, thread, gid)
// for later distribution once the group's root(s) are known.
func (h *Handle) AddToReconstructionGroup(graph *model.ContextFlowGraph, thread *model.Thread, gid uint64, m *model.Metric, partial int, value float64) {
	h.p.registerGroupGraph(graph, thread, gid)
	h.threadTemp(thread).AccumulateGroup(model.ReconGroupKey{Graph: graph, GroupID: gid}, m, partial, value)
}

// AddToReconstructionGroupRoot records that root was observed calling
// entryScope for (thread, gid) (the addToReconstructionGroup(root,
// entry_scope, thread, gid) overload).
func (h *Handle) AddToReconstructionGroupRoot(root *model.Context, entryScope model.Scope, thread *model.Thread, gid uint64) {
	h.p.registerGroupRoot(root, entryScope, thread, gid)
}

// CtxTimepoint enqueues one ctx-stream observation for thread, flushing to
// Sinks and handling rewind escalation.
func (h *Handle) CtxTimepoint(thread *model.Thread, t int64, ctx *model.Context) {
	stream, ok := h.ctxStreams[thread]
	if !ok {
		stream = NewTimepointsData[*model.Context](thread.Attrs.CtxDisorderBound)
		h.ctxStreams[thread] = stream
	}
	h.threadTemp(thread).ObserveTime(t)

	ready, rewind := stream.Push(t, ctx)
	if rewind {
		cclog.Warnf("[TIMEPOINTS]> ctx stream disorder bound exceeded for thread, rewinding")
		for _, sink := range h.p.sinks {
			sink.NotifyCtxTimepointRewindStart(thread)
		}
		return
	}
	h.flushCtxTimepoints(thread, ready)
}

func (h *Handle) flushCtxTimepoints(thread *model.Thread, batch []timeVal[*model.Context]) {
	if len(batch) == 0 {
		return
	}
	out := make([]CtxTimepoint, len(batch))
	for i, tv := range batch {
		out[i] = CtxTimepoint{Time: tv.time, Ctx: tv.val}
	}
	for _, sink := range h.p.sinks {
		if h.p.resolved.sinkAccepts[sink].Has(dataclass.CtxTimepoints) {
			sink.NotifyCtxTimepoints(thread, out)
		}
	}
}

// MetricTimepoint enqueues one metric-stream observation for (thread, m).
func (h *Handle) MetricTimepoint(thread *model.Thread, m *model.Metric, t int64, value float64) {
	byMetric, ok := h.metricStreams[thread]
	if !ok {
		byMetric = make(map[*model.Metric]*TimepointsData[float64])
		h.metricStreams[thread] = byMetric
	}
	stream, ok := byMetric[m]
	if !ok {
		bound := thread.Attrs.MetricDisorderBound
		if b, ok := thread.Attrs.PerMetricDisorderBound[m]; ok {
			bound = b
		}
		stream = NewTimepointsData[float64](bound)
		byMetric[m] = stream
	}
	h.threadTemp(thread).ObserveTime(t)

	ready, rewind := stream.Push(t, value)
	if rewind {
		cclog.Warnf("[TIMEPOINTS]> metric stream disorder bound exceeded for thread, rewinding")
		for _, sink := range h.p.sinks {
			sink.NotifyMetricTimepointRewindStart(thread, m)
		}
		return
	}
	h.flushMetricTimepoints(thread, m, ready)
}

func (h *Handle) flushMetricTimepoints(thread *model.Thread, m *model.Metric, batch []timeVal[float64]) {
	if len(batch) == 0 {
		return
	}
	out := make([]MetricTimepoint, len(batch))
	for i, tv := range batch {
		out[i] = MetricTimepoint{Time: tv.time, Value: tv.val}
	}
	for _, sink := range h.p.sinks {
		if h.p.resolved.sinkAccepts[sink].Has(dataclass.MetricTimepoints) {
			sink.NotifyMetricTimepoints(thread, m, out)
		}
	}
}

// finalizeOwnThreads finalizes every Source-local (non-merged) thread this
// Handle has touched, flushing remaining timepoint data and delivering
// notifyThreadFinal.
func (h *Handle) finalizeOwnThreads() {
	h.mu.Lock()
	threads := make(map[*model.Thread]*model.PerThreadTemporary, len(h.threads))
	for t, temp := range h.threads {
		threads[t] = temp
	}
	h.mu.Unlock()

	for thread, temp := range threads {
		if stream, ok := h.ctxStreams[thread]; ok {
			h.flushCtxTimepoints(thread, stream.Finalize())
		}
		for m, stream := range h.metricStreams[thread] {
			h.flushMetricTimepoints(thread, m, stream.Finalize())
		}

		if thread.Ready() {
			// Shared (merged) temporary: finalizeMergedThreads finalizes it
			// once every Source has contributed.
			continue
		}
		if !temp.MarkFinalized() {
			continue
		}
		h.p.finalizeThread(thread, temp)
	}
}
