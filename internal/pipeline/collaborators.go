// Package pipeline implements the ProfilePipeline orchestrator: the
// Settings builder, the Source/Finalizer/Sink collaborator contracts, the
// wavefront scheduler, and the run phases that drive them to completion.
package pipeline

import (
	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
)

// Source is a producer of raw measurement data. Sources declare nothing
// until bound; once bound, Provides is queried once to compute the
// wavefront schedule.
type Source interface {
	// Provides reports the DataClass this Source can emit. Stable once
	// queried.
	Provides() dataclass.Class
	// FinalizeRequest computes the dependency closure inside the Source
	// needed to satisfy reading class; pure (no side effects).
	FinalizeRequest(class dataclass.Class) dataclass.Class
	// Read emits any subset of attributes/module/file/metric/context/
	// timepoint/etc data via h for the requested mask. Errors are logged
	// and terminate only this Source's contribution.
	Read(h *Handle, mask dataclass.Class) error
}

// Finalizer lazily computes ExtensionClass data for entities on first
// access. Optional capabilities are exposed via the Identifier/PathResolver/
// Classifier/FlowResolver/StatisticsAppender interfaces below; a Finalizer
// implements whichever subset applies.
type Finalizer interface {
	Provides() dataclass.Extension
	Requirements() dataclass.Extension
	NotifyPipeline(p *ProfilePipeline)
}

// ModuleIdentifier assigns a Module's Identifier extension. First Finalizer
// bucket entry to return ok=true wins.
type ModuleIdentifier interface {
	IdentifyModule(*model.Module) (id int, ok bool)
}

type FileIdentifier interface {
	IdentifyFile(*model.File) (id int, ok bool)
}

type MetricIdentifier interface {
	IdentifyMetric(*model.Metric) (id int, ok bool)
}

type ContextIdentifier interface {
	IdentifyContext(*model.Context) (id int, ok bool)
}

type ThreadIdentifier interface {
	IdentifyThread(*model.Thread) (id int, ok bool)
}

type ModulePathResolver interface {
	ResolveModulePath(*model.Module) (path string, ok bool)
}

type FilePathResolver interface {
	ResolveFilePath(*model.File) (path string, ok bool)
}

// Classifier rewrites a NestedScope before its Context is ensured, optionally
// inserting intermediate Contexts below parent. It returns the relation-edge
// Context (relCtx, possibly nil) and the Context under which the Pipeline
// should ensure the final (possibly rewritten) scope (flatCtx). ok=false
// means "no opinion, try the next Finalizer".
type Classifier interface {
	Classify(parent *model.Context, ns *model.NestedScope) (relCtx, flatCtx *model.Context, ok bool)
}

// FlowResolver populates a ContextFlowGraph's entries/templates/handler
// during its Freeze, given a resolver for other graphs.
type FlowResolver interface {
	ResolveFlowGraph(g *model.ContextFlowGraph, resolve model.FlowGraphResolver) bool
}

// StatisticsAppender contributes derived Statistics to a Metric. Unlike the
// other optional methods, this is called on every Finalizer that implements
// it, for every Metric.
type StatisticsAppender interface {
	AppendStatistics(m *model.Metric)
}

// CtxTimepoint pairs an observed time with the Context active at that time.
type CtxTimepoint struct {
	Time int64
	Ctx  *model.Context
}

// MetricTimepoint pairs an observed time with a metric value.
type MetricTimepoint struct {
	Time  int64
	Value float64
}

// Sink is a consumer that pulls finalized data and writes it out. Sinks
// receive notifications in a fixed order: Modules/Files/Metrics/
// ExtraStatistics/Contexts/Threads, then timepoint batches, then final
// per-thread summaries.
type Sink interface {
	Accepts() dataclass.Class
	Wavefronts() dataclass.Class
	Requirements() dataclass.Extension
	NotifyPipeline(p *ProfilePipeline)

	NotifyWavefront(delivered dataclass.Class)

	NotifyModule(*model.Module)
	NotifyFile(*model.File)
	NotifyMetric(*model.Metric)
	NotifyExtraStatistic(*model.ExtraStatistic)
	NotifyContext(*model.Context)
	NotifyThread(*model.Thread)

	NotifyCtxTimepoints(thread *model.Thread, batch []CtxTimepoint)
	NotifyMetricTimepoints(thread *model.Thread, m *model.Metric, batch []MetricTimepoint)
	NotifyCtxTimepointRewindStart(thread *model.Thread)
	NotifyMetricTimepointRewindStart(thread *model.Thread, m *model.Metric)

	NotifyThreadFinal(t *model.PerThreadTemporary)

	Write() error
	// Help performs one unit of cooperative work on behalf of a Sink that
	// hasn't finished Write yet; contributed reports whether any work was
	// done this call, completed reports whether the Sink is now fully done.
	Help() (contributed bool, completed bool)
}

// BaseSink provides no-op defaults for every Sink method so concrete Sinks
// can embed it and override only what they need.
type BaseSink struct{}

func (BaseSink) Accepts() dataclass.Class              { return 0 }
func (BaseSink) Wavefronts() dataclass.Class            { return 0 }
func (BaseSink) Requirements() dataclass.Extension       { return 0 }
func (BaseSink) NotifyPipeline(*ProfilePipeline)                {}
func (BaseSink) NotifyWavefront(dataclass.Class)         {}
func (BaseSink) NotifyModule(*model.Module)              {}
func (BaseSink) NotifyFile(*model.File)                  {}
func (BaseSink) NotifyMetric(*model.Metric)               {}
func (BaseSink) NotifyExtraStatistic(*model.ExtraStatistic) {}
func (BaseSink) NotifyContext(*model.Context)             {}
func (BaseSink) NotifyThread(*model.Thread)               {}
func (BaseSink) NotifyCtxTimepoints(*model.Thread, []CtxTimepoint)                {}
func (BaseSink) NotifyMetricTimepoints(*model.Thread, *model.Metric, []MetricTimepoint) {}
func (BaseSink) NotifyCtxTimepointRewindStart(*model.Thread)                      {}
func (BaseSink) NotifyMetricTimepointRewindStart(*model.Thread, *model.Metric)    {}
func (BaseSink) NotifyThreadFinal(*model.PerThreadTemporary)                      {}
func (BaseSink) Write() error                                                     { return nil }
func (BaseSink) Help() (bool, bool)                                               { return false, true }

// BaseFinalizer provides the mandatory Finalizer methods with empty
// defaults; concrete Finalizers embed it and implement whichever optional
// interfaces above apply.
type BaseFinalizer struct{}

func (BaseFinalizer) Provides() dataclass.Extension     { return 0 }
func (BaseFinalizer) Requirements() dataclass.Extension { return 0 }
func (BaseFinalizer) NotifyPipeline(*ProfilePipeline)          {}
