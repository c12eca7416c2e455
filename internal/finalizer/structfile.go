package finalizer

import (
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/hpcpipeline/profcore/internal/model"
	"github.com/hpcpipeline/profcore/internal/pipeline"
)

const (
	structMaxTemplates = 64
	structMaxDepth     = 128
)

// StructFile derives ContextFlowGraph templates from a caller->callee call graph
// recovered from a binary structure file: for a graph's target Scope, every
// simple path from a call-graph entry point down to the target becomes a
// Template. Strongly connected components (recursive call cycles) are
// collapsed via Tarjan's algorithm before the path search, so a cycle never
// produces an infinite or repeating Template.
//
// Loading the actual structure file (DWARF/symtab-derived call graph) is
// left to callers; like DirectClassification, this Finalizer only consumes
// an already-built call graph populated directly via AddCall.
type StructFile struct {
	pipeline.BaseFinalizer

	p *pipeline.ProfilePipeline

	mu    sync.Mutex
	calls map[model.Scope]map[model.Scope]bool // caller -> callees
}

func NewStructFile() *StructFile {
	return &StructFile{calls: make(map[model.Scope]map[model.Scope]bool)}
}

func (s *StructFile) NotifyPipeline(p *pipeline.ProfilePipeline) { s.p = p }

// AddCall records a call-graph edge: caller may reach callee.
func (s *StructFile) AddCall(caller, callee model.Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	callees, ok := s.calls[caller]
	if !ok {
		callees = make(map[model.Scope]bool)
		s.calls[caller] = callees
	}
	callees[callee] = true
	if _, ok := s.calls[callee]; !ok {
		s.calls[callee] = make(map[model.Scope]bool)
	}
}

// tarjanState is the scratch state for one run of Tarjan's SCC algorithm.
type tarjanState struct {
	calls   map[model.Scope]map[model.Scope]bool
	index   map[model.Scope]int
	low     map[model.Scope]int
	onStack map[model.Scope]bool
	stack   []model.Scope
	next    int
	sccOf   map[model.Scope]int
	nextSCC int
}

// tarjanSCC partitions every Scope appearing in calls into strongly
// connected components, returning a Scope->component-id map.
func tarjanSCC(calls map[model.Scope]map[model.Scope]bool) map[model.Scope]int {
	st := &tarjanState{
		calls:   calls,
		index:   make(map[model.Scope]int),
		low:     make(map[model.Scope]int),
		onStack: make(map[model.Scope]bool),
		sccOf:   make(map[model.Scope]int),
	}
	for v := range calls {
		if _, seen := st.index[v]; !seen {
			st.strongConnect(v)
		}
	}
	return st.sccOf
}

func (st *tarjanState) strongConnect(v model.Scope) {
	st.index[v] = st.next
	st.low[v] = st.next
	st.next++
	st.stack = append(st.stack, v)
	st.onStack[v] = true

	for w := range st.calls[v] {
		if _, seen := st.index[w]; !seen {
			st.strongConnect(w)
			if st.low[w] < st.low[v] {
				st.low[v] = st.low[w]
			}
		} else if st.onStack[w] {
			if st.index[w] < st.low[v] {
				st.low[v] = st.index[w]
			}
		}
	}

	if st.low[v] == st.index[v] {
		comp := st.nextSCC
		st.nextSCC++
		for {
			n := len(st.stack) - 1
			w := st.stack[n]
			st.stack = st.stack[:n]
			st.onStack[w] = false
			st.sccOf[w] = comp
			if w == v {
				break
			}
		}
	}
}

// condensationEdge records one inter-component call edge, keeping the
// concrete callee Scope as the witness used to materialize a path.
type condensationEdge struct {
	to      int
	witness model.Scope
}

// ResolveFlowGraph populates g's entries/templates/handler by searching the
// Tarjan-condensed call graph for every simple path from a registered entry
// Scope down to g.Scope.
func (s *StructFile) ResolveFlowGraph(g *model.ContextFlowGraph, resolve model.FlowGraphResolver) bool {
	s.mu.Lock()
	calls := make(map[model.Scope]map[model.Scope]bool, len(s.calls))
	for k, v := range s.calls {
		callees := make(map[model.Scope]bool, len(v))
		for c := range v {
			callees[c] = true
		}
		calls[k] = callees
	}
	s.mu.Unlock()

	if _, ok := calls[g.Scope]; !ok {
		return false
	}

	sccOf := tarjanSCC(calls)
	condAdj := make(map[int][]condensationEdge)
	for caller, callees := range calls {
		for callee := range callees {
			if sccOf[caller] == sccOf[callee] {
				continue // intra-SCC edge, dropped to avoid cyclic templates
			}
			condAdj[sccOf[caller]] = append(condAdj[sccOf[caller]], condensationEdge{to: sccOf[callee], witness: callee})
		}
	}

	targetComp := sccOf[g.Scope]

	// Entries: Scopes with no incoming call edge (true roots of the call
	// graph), restricted to those that can actually reach the target.
	hasIncoming := make(map[model.Scope]bool)
	for _, callees := range calls {
		for callee := range callees {
			hasIncoming[callee] = true
		}
	}

	templatesFound := 0
	for root := range calls {
		if hasIncoming[root] {
			continue
		}
		if templatesFound >= structMaxTemplates {
			cclog.Warnf("[STRUCTFILE]> template search capped at %d for scope %s", structMaxTemplates, g.Scope)
			break
		}
		paths := findPaths(condAdj, sccOf[root], targetComp, root, structMaxDepth)
		for _, path := range paths {
			if templatesFound >= structMaxTemplates {
				break
			}
			g.AddEntry(root)
			g.AddTemplate(model.Template{Path: path})
			templatesFound++
		}
	}

	g.SetHandler(func(*model.Metric) model.FlowRole { return model.FlowInterior })
	return templatesFound > 0
}

// findPaths enumerates simple paths (at component granularity, to respect
// the SCC collapse) from component startComp down to targetComp, returning
// each as a concrete Scope sequence starting at startScope.
func findPaths(condAdj map[int][]condensationEdge, startComp, targetComp int, startScope model.Scope, maxDepth int) [][]model.Scope {
	var out [][]model.Scope
	visited := map[int]bool{startComp: true}
	var walk func(comp int, path []model.Scope)
	walk = func(comp int, path []model.Scope) {
		if comp == targetComp {
			cp := make([]model.Scope, len(path))
			copy(cp, path)
			out = append(out, cp)
			return
		}
		if len(path) >= maxDepth {
			return
		}
		for _, e := range condAdj[comp] {
			if visited[e.to] {
				continue
			}
			visited[e.to] = true
			walk(e.to, append(path, e.witness))
			visited[e.to] = false
		}
	}
	walk(startComp, []model.Scope{startScope})
	return out
}
