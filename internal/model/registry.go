package model

// Registry owns every uniquing store in a pipeline run: Modules keyed by
// path, Files keyed by path, Metrics keyed by MetricSettings, ExtraStatistics
// keyed by their Settings, and ContextFlowGraphs keyed by the Scope they
// represent — plus the Context Arena. Exactly one Registry exists per
// pipeline run; all interning goes through it so that "one unique object per
// key" holds globally.
type Registry struct {
	modules    *uniqueStore[string, Module]
	files      *uniqueStore[string, File]
	metrics    *uniqueStore[MetricSettings, Metric]
	extraStats *uniqueStore[ExtraStatisticSettings, ExtraStatistic]
	flowGraphs *uniqueStore[Scope, ContextFlowGraph]
	arena      *Arena
}

func NewRegistry() *Registry {
	return &Registry{
		modules:    newUniqueStore[string, Module](),
		files:      newUniqueStore[string, File](),
		metrics:    newUniqueStore[MetricSettings, Metric](),
		extraStats: newUniqueStore[ExtraStatisticSettings, ExtraStatistic](),
		flowGraphs: newUniqueStore[Scope, ContextFlowGraph](),
		arena:      NewArena(),
	}
}

// Module interns a Module by path. created reports whether this call
// produced a new object, the first-time-seen signal callers use to drive
// one-shot per-Module setup.
func (r *Registry) Module(path string) (m *Module, created bool) {
	return r.modules.ensure(path, func() *Module { return newModule(path) })
}

func (r *Registry) File(path string) (f *File, created bool) {
	return r.files.ensure(path, func() *File { return newFile(path) })
}

func (r *Registry) Metric(s MetricSettings) (m *Metric, created bool) {
	return r.metrics.ensure(s, func() *Metric { return newMetric(s) })
}

func (r *Registry) ExtraStatistic(s ExtraStatisticSettings, formula *Expression) (*ExtraStatistic, bool) {
	return r.extraStats.ensure(s, func() *ExtraStatistic {
		return &ExtraStatistic{Settings: s, Formula: formula}
	})
}

func (r *Registry) FlowGraph(scope Scope) (g *ContextFlowGraph, created bool) {
	return r.flowGraphs.ensure(scope, func() *ContextFlowGraph { return newContextFlowGraph(scope) })
}

func (r *Registry) Arena() *Arena { return r.arena }

// Freeze fixes per-entity structural layout across every uniquing store.
// New keys may still be inserted afterwards.
func (r *Registry) Freeze() {
	r.modules.freeze()
	r.files.freeze()
	r.metrics.freeze()
	r.extraStats.freeze()
	r.flowGraphs.freeze()
}

func (r *Registry) Modules() []*Module                 { return r.modules.snapshot() }
func (r *Registry) Files() []*File                     { return r.files.snapshot() }
func (r *Registry) MetricsList() []*Metric              { return r.metrics.snapshot() }
func (r *Registry) ExtraStatistics() []*ExtraStatistic  { return r.extraStats.snapshot() }
func (r *Registry) FlowGraphs() []*ContextFlowGraph     { return r.flowGraphs.snapshot() }

func (r *Registry) ModuleCount() int    { return r.modules.len() }
func (r *Registry) FileCount() int      { return r.files.len() }
func (r *Registry) MetricCount() int    { return r.metrics.len() }
func (r *Registry) FlowGraphCount() int { return r.flowGraphs.len() }
