package pipeline

import (
	"runtime"
	"sync"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/fault"
	"github.com/hpcpipeline/profcore/internal/model"
)

// reconKey identifies one instantiated ContextReconstruction: a
// (FlowGraph, root Context) pair.
type reconKey struct {
	graph *model.ContextFlowGraph
	root  *model.Context
}

// groupToken identifies one pooled reconstruction group: a (thread,
// group id) pair, matching the Source-supplied gid in
// addToReconstructionGroup.
type groupToken struct {
	thread *model.Thread
	gid    uint64
}

type groupState struct {
	mu     sync.Mutex
	graphs map[*model.ContextFlowGraph]bool
	roots  map[*model.Context]model.Scope
}

// ProfilePipeline is the orchestrator: it owns the Registry (uniquing
// stores + Context arena), drives the configure/bind/freeze/run phases, and
// holds the run-duration shared state (merged threads, reconstruction
// pools, wavefront delivery tracking).
type ProfilePipeline struct {
	settings *Settings
	resolved *resolved
	registry *model.Registry

	sinks      []Sink
	finalizers []Finalizer
	sources    []Source
	handles    []*Handle

	mergedThreads *mergedThreadRegistry

	reconMu    sync.Mutex
	recons     map[reconKey]*model.ContextReconstruction
	groupsMu   sync.Mutex
	groups     map[groupToken]*groupState

	// scheduled is the intersection of the union of Source.Provides() with
	// the union of Sinks' expanded accepts; computed once all Sources are
	// bound.
	scheduled dataclass.Class

	waveMu    sync.Mutex
	delivered dataclass.Class

	timeMu       sync.Mutex
	globalMinSet bool
	globalMin    int64
	globalMax    int64

	frozen bool
}

// wavefrontOrder is the fixed delivery order for scheduled wavefront
// classes.
var wavefrontOrder = []dataclass.Class{
	dataclass.Attributes,
	dataclass.References,
	dataclass.Threads,
	dataclass.Contexts,
}

// Build validates s and constructs a ProfilePipeline ready for Configure.
func Build(s *Settings) *ProfilePipeline {
	r := s.build()

	p := &ProfilePipeline{
		settings:      s,
		resolved:      r,
		registry:      model.NewRegistry(),
		sinks:         s.sinks,
		finalizers:    s.finalizers,
		sources:       s.sources,
		mergedThreads: newMergedThreadRegistry(),
		recons:        make(map[reconKey]*model.ContextReconstruction),
		groups:        make(map[groupToken]*groupState),
	}
	return p
}

// Registry exposes the pipeline's Registry (module/file/metric/context
// uniquing stores) to collaborators that need direct access, e.g. Sinks
// enumerating the final Context tree in Write().
func (p *ProfilePipeline) Registry() *model.Registry { return p.registry }

// Configure runs the bind phase: notifies every Finalizer and Sink of the
// pipeline (so they can stash a back-pointer), and validates disjointness of
// Finalizer provides/requires. A contract violation is fatal.
func (p *ProfilePipeline) Configure() {
	for _, f := range p.finalizers {
		if f.Provides()&f.Requirements() != 0 {
			fault.Contract("PIPELINE", "finalizer provides and requirements overlap: %v", f.Provides()&f.Requirements())
		}
		f.NotifyPipeline(p)
	}
	for _, sink := range p.sinks {
		sink.NotifyPipeline(p)
	}
}

// Freeze runs the freeze phase: fixes the Registry's per-entity structural
// layout, creates the global Context, and announces it to every
// contexts-accepting Sink before any data enters.
func (p *ProfilePipeline) Freeze() {
	if p.frozen {
		return
	}
	p.registry.Freeze()
	root := p.registry.Arena().Root()
	for _, sink := range p.sinks {
		if p.resolved.sinkAccepts[sink].Has(dataclass.Contexts) {
			sink.NotifyContext(root)
		}
	}
	p.frozen = true
}

// computeSchedule intersects the union of bound Sources' Provides() with the
// union of expanded Sink accepts, and delivers any Sink-requested wavefront
// classes outside that intersection immediately as "unscheduled".
func (p *ProfilePipeline) computeSchedule() {
	var sourceUnion dataclass.Class
	for _, src := range p.sources {
		sourceUnion = sourceUnion.Union(src.Provides())
	}
	p.scheduled = sourceUnion.Intersect(p.resolved.unionAccept)

	var requestedWavefronts dataclass.Class
	for _, sink := range p.sinks {
		requestedWavefronts = requestedWavefronts.Union(sink.Wavefronts())
	}
	unscheduled := requestedWavefronts.Sub(p.scheduled)
	if unscheduled.HasAny() {
		p.deliverWavefront(unscheduled)
	}
}

// deliverWavefront marks classes delivered and notifies every Sink whose
// wavefront set intersects them, honoring the invariant that a class is
// delivered to a given Sink at most once.
func (p *ProfilePipeline) deliverWavefront(classes dataclass.Class) {
	p.waveMu.Lock()
	newlyDelivered := classes.Sub(p.delivered)
	p.delivered = p.delivered.Union(classes)
	p.waveMu.Unlock()
	if !newlyDelivered.HasAny() {
		return
	}
	for _, sink := range p.orderedSinksForWavefronts() {
		if sink.Wavefronts().AnyOf(newlyDelivered) {
			sink.NotifyWavefront(p.delivered)
		}
	}
}

// orderedSinksForWavefronts returns Sinks in the order required to respect
// the configured ordered wavefront chain, with unchained Sinks appended
// afterwards in registration order.
func (p *ProfilePipeline) orderedSinksForWavefronts() []Sink {
	chained := make(map[Sink]bool, len(p.settings.orderedWavefrontChain))
	for _, s := range p.settings.orderedWavefrontChain {
		chained[s] = true
	}
	out := make([]Sink, 0, len(p.sinks))
	out = append(out, p.settings.orderedWavefrontChain...)
	for _, s := range p.sinks {
		if !chained[s] {
			out = append(out, s)
		}
	}
	return out
}

// Run drives the fixed-size worker-team Run phase. teamSize workers execute
// the scheduled wavefronts, the finishing wave, merged-thread finalization,
// and the Sink write phase, in that order with barriers between each.
func (p *ProfilePipeline) Run() error {
	p.handles = make([]*Handle, len(p.sources))
	for i, src := range p.sources {
		p.handles[i] = newHandle(p, src)
	}

	p.computeSchedule()

	for _, class := range wavefrontOrder {
		if !p.scheduled.Has(class) {
			continue
		}
		p.runWavefrontClass(class)
		p.deliverWavefront(class)
	}

	p.runFinishingWave()

	// Barrier: drain merged-thread registry, finalize in parallel.
	p.finalizeMergedThreads()

	// Barrier: write phase.
	return p.runWritePhase()
}

// runWavefrontClass dispatches class to every bound Source whose
// finalizeRequest for it is non-empty, using a worker pool sized to
// settings.teamSize.
func (p *ProfilePipeline) runWavefrontClass(class dataclass.Class) {
	p.forEachSourceParallel(func(h *Handle) {
		mask := h.src.FinalizeRequest(class)
		if !mask.HasAny() {
			return
		}
		h.runRead(mask)
	})
}

// runFinishingWave reads all remaining scheduled classes per Source and
// finalizes that Source's PerThreadTemporaries.
func (p *ProfilePipeline) runFinishingWave() {
	remaining := p.scheduled.Sub(p.delivered)
	p.forEachSourceParallel(func(h *Handle) {
		mask := h.src.FinalizeRequest(remaining)
		if mask.HasAny() {
			h.runRead(mask)
		}
		h.finalizeOwnThreads()
	})
}

func (p *ProfilePipeline) forEachSourceParallel(fn func(h *Handle)) {
	handles := p.handles

	team := p.settings.teamSize
	if team <= 1 || len(handles) <= 1 {
		for _, h := range handles {
			fn(h)
		}
		return
	}

	work := make(chan *Handle, len(handles))
	for _, h := range handles {
		work <- h
	}
	close(work)

	var wg sync.WaitGroup
	for i := 0; i < team; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for h := range work {
				fn(h)
			}
		}()
	}
	wg.Wait()
}

// finalizeMergedThreads drains the merged-thread registry and finalizes each
// shared PerThreadTemporary in parallel, delivering notifyThreadFinal to
// every threads-accepting Sink.
func (p *ProfilePipeline) finalizeMergedThreads() {
	entries := p.mergedThreads.drain()
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxInt(p.settings.teamSize, 1))
	for _, e := range entries {
		if !e.Temp.MarkFinalized() {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(thread *model.Thread, temp *model.PerThreadTemporary) {
			defer wg.Done()
			defer func() { <-sem }()
			p.finalizeThread(thread, temp)
		}(e.Thread, e.Temp)
	}
	wg.Wait()
}

// finalizeThread merges a PerThreadTemporary's staged accumulations into the
// shared Context/Reconstruction accumulators and delivers notifyThreadFinal.
func (p *ProfilePipeline) finalizeThread(thread *model.Thread, temp *model.PerThreadTemporary) {
	temp.DrainContexts(func(ctx *model.Context, m *model.Metric, partial int, value float64, set bool) {
		if !set {
			return
		}
		ctx.Accumulate(m, partial, value)
	})

	for key, byMetric := range temp.DrainGroups() {
		p.distributeGroup(thread, key, byMetric)
	}

	if lo, hi, ok := temp.TimeBounds(); ok {
		p.observeGlobalTime(lo, hi)
	}

	for _, sink := range p.sinks {
		if p.resolved.sinkAccepts[sink].Has(dataclass.Threads) {
			sink.NotifyThreadFinal(temp)
		}
	}
}

func (p *ProfilePipeline) observeGlobalTime(lo, hi int64) {
	p.timeMu.Lock()
	defer p.timeMu.Unlock()
	if !p.globalMinSet {
		p.globalMin, p.globalMax, p.globalMinSet = lo, hi, true
		return
	}
	if lo < p.globalMin {
		p.globalMin = lo
	}
	if hi > p.globalMax {
		p.globalMax = hi
	}
}

// GlobalTimeBounds returns the pipeline-wide reduced (min, max) observed
// timepoint time.
func (p *ProfilePipeline) GlobalTimeBounds() (int64, int64, bool) {
	p.timeMu.Lock()
	defer p.timeMu.Unlock()
	return p.globalMin, p.globalMax, p.globalMinSet
}

// orderedSinksForWrite returns the configured ordered write chain first, in
// registration order, with unchained Sinks appended afterwards; this is the
// order in which the write phase hands Sinks to its workers.
func (p *ProfilePipeline) orderedSinksForWrite() []Sink {
	chained := make(map[Sink]bool, len(p.settings.orderedWriteChain))
	for _, s := range p.settings.orderedWriteChain {
		chained[s] = true
	}
	out := make([]Sink, 0, len(p.sinks))
	out = append(out, p.settings.orderedWriteChain...)
	for _, s := range p.sinks {
		if !chained[s] {
			out = append(out, s)
		}
	}
	return out
}

// runWritePhase drives sink.Write() across the worker team (Source Handles
// stay in p.handles; nothing here releases them); after its
// own Write, a worker cooperatively calls Help() on any Sink not yet
// completed until all Sinks report completed. Write() I/O failure is fatal
// to the run.
func (p *ProfilePipeline) runWritePhase() error {
	sinks := p.orderedSinksForWrite()
	if len(sinks) == 0 {
		return nil
	}

	var mu sync.Mutex
	completed := make(map[Sink]bool, len(sinks))

	work := make(chan Sink, len(sinks))
	for _, s := range sinks {
		work <- s
	}
	close(work)

	team := minInt(maxInt(p.settings.teamSize, 1), len(sinks))

	var wg sync.WaitGroup
	for w := 0; w < team; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sink := range work {
				if err := sink.Write(); err != nil {
					fault.IO("SINK", err)
				}
				mu.Lock()
				completed[sink] = true
				mu.Unlock()
				p.helpRemaining(sinks, completed, &mu)
			}
		}()
	}
	wg.Wait()
	return nil
}

// helpRemaining loops calling Help() on every Sink not yet completed, until
// either all are completed or a full pass makes no progress (at which point
// it yields once and returns, since other workers are presumably still
// driving their own Write()/Help() loops).
func (p *ProfilePipeline) helpRemaining(sinks []Sink, completed map[Sink]bool, mu *sync.Mutex) {
	for {
		progressed := false
		allDone := true
		for _, sink := range sinks {
			mu.Lock()
			done := completed[sink]
			mu.Unlock()
			if done {
				continue
			}
			allDone = false
			contributed, finished := sink.Help()
			if finished {
				mu.Lock()
				completed[sink] = true
				mu.Unlock()
			}
			if contributed {
				progressed = true
			}
		}
		if allDone {
			return
		}
		if !progressed {
			runtime.Gosched()
			return
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
