package finalizer

import (
	"sync"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
	"github.com/hpcpipeline/profcore/internal/pipeline"
)

// LogicalEntry is one entry of a logical Module's id table: either a File
// (interpreted source, e.g. a Python script) or a Function (an interpreted
// routine).
type LogicalEntry struct {
	File     *model.File
	Function *model.Function
}

// LogicalModules classifies point Scopes whose Module is a "logical" module
// — a synthetic Module standing in for an interpreter (Python, R, ...)
// rather than a real binary — by looking the point's Offset up as an
// opaque numeric id in a per-Module id table. Functions are constructed
// plainly per lookup rather than interned across logical Modules, since
// model.Function itself is not an interned type.
type LogicalModules struct {
	pipeline.BaseFinalizer

	p *pipeline.ProfilePipeline

	mu      sync.Mutex
	logical map[*model.Module]map[uint32]LogicalEntry
}

func NewLogicalModules() *LogicalModules {
	return &LogicalModules{logical: make(map[*model.Module]map[uint32]LogicalEntry)}
}

func (l *LogicalModules) Provides() dataclass.Extension     { return dataclass.Classification }
func (l *LogicalModules) Requirements() dataclass.Extension { return dataclass.ResolvedPath }

func (l *LogicalModules) NotifyPipeline(p *pipeline.ProfilePipeline) { l.p = p }

// RegisterLogicalModule marks m as logical and installs its id table.
func (l *LogicalModules) RegisterLogicalModule(m *model.Module, ids map[uint32]LogicalEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logical[m] = ids
}

func (l *LogicalModules) entryFor(m *model.Module, id uint32) (LogicalEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tbl, ok := l.logical[m]
	if !ok {
		return LogicalEntry{}, false
	}
	e, ok := tbl[id]
	return e, ok
}

// Classify rewrites a point Scope in a registered logical Module into a
// Function or Line Scope per the id table.
func (l *LogicalModules) Classify(parent *model.Context, ns *model.NestedScope) (relCtx, flatCtx *model.Context, ok bool) {
	if ns.Scope.Kind != model.ScopePoint || ns.Scope.Module == nil {
		return nil, nil, false
	}
	entry, ok := l.entryFor(ns.Scope.Module, uint32(ns.Scope.Offset))
	if !ok {
		return nil, nil, false
	}
	arena := l.p.Registry().Arena()
	switch {
	case entry.Function != nil:
		child, _ := parent.Ensure(arena, model.NS(model.RelCall, model.FunctionScope(entry.Function)))
		return child, child, true
	case entry.File != nil:
		child, _ := parent.Ensure(arena, model.NS(model.RelEnclosure, model.LineScope(entry.File, 0)))
		return child, child, true
	default:
		return nil, nil, false
	}
}
