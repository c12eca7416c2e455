package model

import "sync"

// Context is a node in the calling-context tree rooted at the pipeline's
// global Context. Contexts are created on demand and never deleted; callers
// hold them by pointer into the Arena that owns them (see Arena below).
type Context struct {
	parent *Context // nil only for the global root
	edge   NestedScope

	id    int
	hasID bool
	idMu  sync.Mutex

	childMu sync.RWMutex
	children map[NestedScope]*Context

	accMu sync.Mutex
	acc   map[*Metric][]RawAccumulator

	reconMu sync.Mutex
	recons  []*ContextReconstruction
}

// Arena owns every Context for the lifetime of a pipeline run: a
// monotonically growing pool, Contexts referred to by stable pointer into
// it rather than individually heap-allocated and shared some other way.
type Arena struct {
	mu    sync.Mutex
	nodes []*Context
	root  *Context
}

// NewArena creates an Arena and its global root Context, whose NestedScope is
// (global, global-scope).
func NewArena() *Arena {
	a := &Arena{}
	root := a.alloc(nil, NS(RelGlobal, GlobalScope()))
	a.root = root
	return a
}

func (a *Arena) alloc(parent *Context, edge NestedScope) *Context {
	c := &Context{
		parent:   parent,
		edge:     edge,
		children: make(map[NestedScope]*Context),
		acc:      make(map[*Metric][]RawAccumulator),
	}
	a.mu.Lock()
	a.nodes = append(a.nodes, c)
	a.mu.Unlock()
	return c
}

// Root returns the global Context.
func (a *Arena) Root() *Context { return a.root }

// Len returns the total number of Contexts allocated so far.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.nodes)
}

// Snapshot returns every allocated Context, in allocation order.
func (a *Arena) Snapshot() []*Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Context, len(a.nodes))
	copy(out, a.nodes)
	return out
}

// Parent returns this Context's parent, or nil for the global root. A
// Context's parent is fixed for its lifetime.
func (c *Context) Parent() *Context { return c.parent }

// Edge returns the NestedScope relating this Context to its parent.
func (c *Context) Edge() NestedScope { return c.edge }

// Ensure returns the child of c along NestedScope ns, creating it via the
// Arena if it does not yet exist. The at-most-once-per-NestedScope invariant
// is enforced with double-checked locking: losers of a creation race drop
// their (non-existent, since we allocate under the write lock) construction
// and return the winner instead.
//
// Ensure is linearizable: the second return value is true exactly once per
// (c, ns) pair, across all callers, for the Context's entire lifetime.
func (c *Context) Ensure(a *Arena, ns NestedScope) (*Context, bool) {
	c.childMu.RLock()
	if child, ok := c.children[ns]; ok {
		c.childMu.RUnlock()
		return child, false
	}
	c.childMu.RUnlock()

	c.childMu.Lock()
	if child, ok := c.children[ns]; ok {
		c.childMu.Unlock()
		return child, false
	}
	child := a.alloc(c, ns)
	c.children[ns] = child
	c.childMu.Unlock()
	return child, true
}

// Child looks up an existing child without creating one.
func (c *Context) Child(ns NestedScope) (*Context, bool) {
	c.childMu.RLock()
	defer c.childMu.RUnlock()
	child, ok := c.children[ns]
	return child, ok
}

// Children returns a snapshot of this Context's direct children.
func (c *Context) Children() []*Context {
	c.childMu.RLock()
	defer c.childMu.RUnlock()
	out := make([]*Context, 0, len(c.children))
	for _, child := range c.children {
		out = append(out, child)
	}
	return out
}

// SetID assigns a dense identifier exactly once; later calls are ignored.
// Returns the ID actually stored (the first one ever set).
func (c *Context) SetID(id int) int {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	if !c.hasID {
		c.id = id
		c.hasID = true
	}
	return c.id
}

func (c *Context) ID() (int, bool) {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	return c.id, c.hasID
}

// Accumulate adds a raw sample value into this Context's accumulator for
// Metric m / Partial index p, applying the Partial's combinator.
func (c *Context) Accumulate(m *Metric, partial int, value float64) {
	c.accMu.Lock()
	slots, ok := c.acc[m]
	if !ok {
		slots = make([]RawAccumulator, len(m.Partials))
		c.acc[m] = slots
	}
	c.accMu.Unlock()

	// Each Partial slot has its own internal lock so concurrent writers to
	// distinct Metrics/Partials never contend with each other.
	slots[partial].combine(m.Partials[partial].Combinator, value)
}

// StatisticsFor returns the raw per-Partial accumulators stored for Metric m
// at this Context, allocating (but not accumulating into) them if absent.
// Used by the distributed MetricReceiver to merge incoming partials.
func (c *Context) StatisticsFor(m *Metric) []RawAccumulator {
	c.accMu.Lock()
	defer c.accMu.Unlock()
	slots, ok := c.acc[m]
	if !ok {
		slots = make([]RawAccumulator, len(m.Partials))
		c.acc[m] = slots
	}
	return slots
}

// Metrics returns the Metrics that have at least one accumulated value at
// this Context.
func (c *Context) Metrics() []*Metric {
	c.accMu.Lock()
	defer c.accMu.Unlock()
	out := make([]*Metric, 0, len(c.acc))
	for m := range c.acc {
		out = append(out, m)
	}
	return out
}

// AddReconstruction attaches a ContextReconstruction rooted at this Context.
func (c *Context) AddReconstruction(r *ContextReconstruction) {
	c.reconMu.Lock()
	c.recons = append(c.recons, r)
	c.reconMu.Unlock()
}

// Reconstructions returns the ContextReconstructions rooted at this Context.
func (c *Context) Reconstructions() []*ContextReconstruction {
	c.reconMu.Lock()
	defer c.reconMu.Unlock()
	out := make([]*ContextReconstruction, len(c.recons))
	copy(out, c.recons)
	return out
}
