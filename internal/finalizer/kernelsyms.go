package finalizer

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
	"github.com/hpcpipeline/profcore/internal/pipeline"
)

// KernelSymbols classifies point Scopes in Modules that lack a normal
// symbol table — notably Linux kernels and GPU kernel binaries — whose
// symbols instead arrive as an `nm`-style text dump saved alongside the
// measurements. Requires nothing: unlike DirectClassification it does not
// need a resolved module path, since the dump is keyed by Module identity
// directly.
type KernelSymbols struct {
	pipeline.BaseFinalizer

	p *pipeline.ProfilePipeline

	mu     sync.Mutex
	tables map[*model.Module]*ModuleSymbols
}

func NewKernelSymbols() *KernelSymbols {
	return &KernelSymbols{tables: make(map[*model.Module]*ModuleSymbols)}
}

func (k *KernelSymbols) Provides() dataclass.Extension     { return dataclass.Classification }
func (k *KernelSymbols) Requirements() dataclass.Extension { return 0 }

func (k *KernelSymbols) NotifyPipeline(p *pipeline.ProfilePipeline) { k.p = p }

// LoadDump parses an `nm`-style dump ("<hex addr> <type> <name>" per line,
// sorted or not) into ranges spanning from each symbol to the next, and
// registers it against m.
func (k *KernelSymbols) LoadDump(m *model.Module, r io.Reader) error {
	type entry struct {
		addr uint64
		name string
	}
	var entries []entry

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			continue
		}
		entries = append(entries, entry{addr: addr, name: fields[2]})
	}
	if err := sc.Err(); err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].addr < entries[j].addr })

	ranges := make([]SymbolRange, 0, len(entries))
	for i, e := range entries {
		high := ^uint64(0)
		if i+1 < len(entries) {
			high = entries[i+1].addr
		}
		ranges = append(ranges, SymbolRange{
			Low:      e.addr,
			High:     high,
			Function: &model.Function{Module: m, Name: e.name, HasEntry: true, Entry: e.addr},
		})
	}

	syms := NewModuleSymbols(ranges)
	k.mu.Lock()
	k.tables[m] = syms
	k.mu.Unlock()
	m.SetClassification(syms)
	return nil
}

func (k *KernelSymbols) symbolsFor(m *model.Module) (*ModuleSymbols, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.tables[m]
	return s, ok
}

// Classify rewrites a point Scope covered by a loaded dump into a Function
// scope, the same shape as DirectClassification but without line data
// (kernel dumps carry no line-table information).
func (k *KernelSymbols) Classify(parent *model.Context, ns *model.NestedScope) (relCtx, flatCtx *model.Context, ok bool) {
	if ns.Scope.Kind != model.ScopePoint || ns.Scope.Module == nil {
		return nil, nil, false
	}
	syms, ok := k.symbolsFor(ns.Scope.Module)
	if !ok {
		return nil, nil, false
	}
	rng, found := syms.lookup(ns.Scope.Offset)
	if !found || rng.Function == nil {
		return nil, nil, false
	}
	child, _ := parent.Ensure(k.p.Registry().Arena(), model.NS(model.RelCall, model.FunctionScope(rng.Function)))
	return child, child, true
}
