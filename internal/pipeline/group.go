package pipeline

import "github.com/hpcpipeline/profcore/internal/model"

// groupStateFor returns (creating if needed) the pooled state for one
// (thread, gid) reconstruction group.
func (p *ProfilePipeline) groupStateFor(thread *model.Thread, gid uint64) *groupState {
	tok := groupToken{thread: thread, gid: gid}
	p.groupsMu.Lock()
	defer p.groupsMu.Unlock()
	g, ok := p.groups[tok]
	if !ok {
		g = &groupState{graphs: make(map[*model.ContextFlowGraph]bool), roots: make(map[*model.Context]model.Scope)}
		p.groups[tok] = g
	}
	return g
}

// registerGroupGraph records that (thread, gid) pools samples destined for
// graph (the addToReconstructionGroup(graph, thread, gid) overload).
func (p *ProfilePipeline) registerGroupGraph(graph *model.ContextFlowGraph, thread *model.Thread, gid uint64) {
	g := p.groupStateFor(thread, gid)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.graphs[graph] = true
}

// registerGroupRoot records that root is a candidate reconstruction root for
// (thread, gid), having been observed calling entryScope (the
// addToReconstructionGroup(root, entry_scope, thread, gid) overload).
func (p *ProfilePipeline) registerGroupRoot(root *model.Context, entryScope model.Scope, thread *model.Thread, gid uint64) {
	g := p.groupStateFor(thread, gid)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roots[root] = entryScope
}

// reconstructionFor returns (creating and instantiating if needed) the
// ContextReconstruction for (graph, root).
func (p *ProfilePipeline) reconstructionFor(graph *model.ContextFlowGraph, root *model.Context) *model.ContextReconstruction {
	key := reconKey{graph: graph, root: root}
	p.reconMu.Lock()
	defer p.reconMu.Unlock()
	r, ok := p.recons[key]
	if ok {
		return r
	}
	r = model.NewContextReconstruction(graph, root)
	p.recons[key] = r
	r.Instantiate(p.registry.Arena(), defaultReconRelation)
	return r
}

// defaultReconRelation assigns model.RelCall to every hop of an instantiated
// Template's chain, matching how structfile-derived templates represent
// call edges.
func defaultReconRelation(depth, total int) model.Relation {
	return model.RelCall
}

// distributeGroup resolves a pooled reconstruction-group's staged
// accumulations across every instantiated ContextReconstruction whose root
// calls one of the group's flow graphs' entries: for each registered root
// that was observed calling an entry point of one of this group's graphs,
// the staged per-(metric,partial) values are replayed into that (graph,
// root) Reconstruction.
func (p *ProfilePipeline) distributeGroup(thread *model.Thread, key model.ReconGroupKey, byMetric map[*model.Metric]*model.MetricSlots) {
	g := p.groupStateFor(thread, key.GroupID)
	g.mu.Lock()
	graphs := make([]*model.ContextFlowGraph, 0, len(g.graphs))
	for gr := range g.graphs {
		graphs = append(graphs, gr)
	}
	roots := make(map[*model.Context]model.Scope, len(g.roots))
	for r, sc := range g.roots {
		roots[r] = sc
	}
	g.mu.Unlock()

	if len(graphs) == 0 {
		graphs = []*model.ContextFlowGraph{key.Graph}
	}

	for _, graph := range graphs {
		for root, entryScope := range roots {
			if !graph.HasEntry(entryScope) {
				continue
			}
			recon := p.reconstructionFor(graph, root)
			for m, slots := range byMetric {
				for i := 0; i < slots.Len(); i++ {
					if !slots.IsSet(i) {
						continue
					}
					recon.Accumulate(m, i, slots.Value(i))
				}
			}
		}
	}
}
