package finalizer

import (
	"sort"
	"sync"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
	"github.com/hpcpipeline/profcore/internal/pipeline"
)

// SymbolRange is one entry of a Module's symbol table: [Low, High) maps to
// Function, optionally with line-table coverage for the same range.
type SymbolRange struct {
	Low, High uint64
	Function  *model.Function
	File      *model.File
	Line      uint64
}

// ModuleSymbols is the classification payload DirectClassification expects
// a Module to carry, set via Module.SetClassification by whatever loads the
// binary's symbol table — loading ELF/DWARF itself is out of scope here.
type ModuleSymbols struct {
	ranges []SymbolRange
}

// NewModuleSymbols builds a ModuleSymbols table from ranges, sorting by Low
// for binary search.
func NewModuleSymbols(ranges []SymbolRange) *ModuleSymbols {
	out := append([]SymbolRange(nil), ranges...)
	sort.Slice(out, func(i, j int) bool { return out[i].Low < out[j].Low })
	return &ModuleSymbols{ranges: out}
}

func (s *ModuleSymbols) lookup(offset uint64) (SymbolRange, bool) {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].High > offset })
	if i < len(s.ranges) && s.ranges[i].Low <= offset && offset < s.ranges[i].High {
		return s.ranges[i], true
	}
	return SymbolRange{}, false
}

// DirectClassification rewrites a flat point Scope into a function (and,
// when line-table data covers the offset, line) NestedScope
// chain by consulting the owning Module's ModuleSymbols classification
// payload. This Finalizer only consumes an already-parsed symbol table; it
// does not parse object files itself.
type DirectClassification struct {
	pipeline.BaseFinalizer

	p *pipeline.ProfilePipeline

	mu     sync.Mutex
	tables map[*model.Module]*ModuleSymbols
}

// NewDirectClassification constructs a DirectClassification Finalizer.
// Callers register a Module's symbol table via RegisterModule before run,
// or lazily by having a Source call it once the Module is known.
func NewDirectClassification() *DirectClassification {
	return &DirectClassification{tables: make(map[*model.Module]*ModuleSymbols)}
}

func (d *DirectClassification) Provides() dataclass.Extension     { return dataclass.Classification }
func (d *DirectClassification) Requirements() dataclass.Extension { return dataclass.ResolvedPath }

func (d *DirectClassification) NotifyPipeline(p *pipeline.ProfilePipeline) { d.p = p }

// RegisterModule installs the symbol table for m, used by the Classify hook
// below. Safe to call concurrently with Classify.
func (d *DirectClassification) RegisterModule(m *model.Module, syms *ModuleSymbols) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[m] = syms
	m.SetClassification(syms)
}

func (d *DirectClassification) symbolsFor(m *model.Module) (*ModuleSymbols, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.tables[m]
	return s, ok
}

// Classify implements pipeline.Classifier: for a point Scope whose Module
// has a registered symbol table, it ensures a Function-scoped (and, if
// line data is present, Line-scoped) intermediate Context below parent,
// then returns the Function-scoped Context as relCtx and the deepest
// intermediate Context (the Line-scoped one if present, else the
// Function-scoped one) as flatCtx — the Pipeline will ensure one final
// child using the (rewritten) point NestedScope under flatCtx.
func (d *DirectClassification) Classify(parent *model.Context, ns *model.NestedScope) (relCtx, flatCtx *model.Context, ok bool) {
	if ns.Scope.Kind != model.ScopePoint || ns.Scope.Module == nil {
		return nil, nil, false
	}
	syms, ok := d.symbolsFor(ns.Scope.Module)
	if !ok {
		return nil, nil, false
	}
	rng, found := syms.lookup(ns.Scope.Offset)
	if !found || rng.Function == nil {
		return nil, nil, false
	}

	cur, _ := parent.Ensure(d.p.Registry().Arena(), model.NS(model.RelCall, model.FunctionScope(rng.Function)))
	rel := cur
	if rng.File != nil {
		cur, _ = cur.Ensure(d.p.Registry().Arena(), model.NS(model.RelEnclosure, model.LineScope(rng.File, rng.Line)))
	}
	return rel, cur, true
}
