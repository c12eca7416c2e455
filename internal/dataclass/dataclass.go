// Package dataclass defines the bitset types used to negotiate which kinds of
// data Sources/Sinks/Finalizers produce, consume, and depend on.
package dataclass

import "strings"

// Class is a bitset over the data categories a Pipeline moves between
// Sources and Sinks. The zero value is the empty set.
type Class uint8

const (
	Attributes Class = 1 << iota
	Threads
	References
	Metrics
	Contexts
	CtxTimepoints
	MetricTimepoints
)

// All is the universal set of data classes.
const All Class = Attributes | Threads | References | Metrics | Contexts | CtxTimepoints | MetricTimepoints

// Union returns the set union c | o.
func (c Class) Union(o Class) Class { return c | o }

// Add is an alias for Union, read more naturally as "+" at call sites.
func (c Class) Add(o Class) Class { return c | o }

// Sub returns the set difference c - o.
func (c Class) Sub(o Class) Class { return c &^ o }

// Intersect returns the set intersection c & o.
func (c Class) Intersect(o Class) Class { return c & o }

// HasAny reports whether the set is non-empty.
func (c Class) HasAny() bool { return c != 0 }

// Has reports whether every bit of o is present in c.
func (c Class) Has(o Class) bool { return c&o == o }

// AnyOf reports whether c and o share any bit.
func (c Class) AnyOf(o Class) bool { return c&o != 0 }

// AllOf reports whether c is a superset of o.
func (c Class) AllOf(o Class) bool { return c&o == o }

// String renders the class using a single-letter-per-bit convention: A T R
// C, a space, then m t v.
func (c Class) String() string {
	var b strings.Builder
	b.WriteByte('[')
	if c.Has(Attributes) {
		b.WriteByte('A')
	}
	if c.Has(Threads) {
		b.WriteByte('T')
	}
	if c.Has(References) {
		b.WriteByte('R')
	}
	if c.Has(Contexts) {
		b.WriteByte('C')
	}
	if c.AnyOf(Attributes|Threads|References|Contexts) && c.AnyOf(Metrics|CtxTimepoints|MetricTimepoints) {
		b.WriteByte(' ')
	}
	if c.Has(Metrics) {
		b.WriteByte('m')
	}
	if c.Has(CtxTimepoints) {
		b.WriteByte('t')
	}
	if c.Has(MetricTimepoints) {
		b.WriteByte('v')
	}
	b.WriteByte(']')
	return b.String()
}

// Expand applies the transitive-accepts rule from settings-build time:
// accepting metrics implies attributes+threads; contexts implies references;
// ctxTimepoints implies contexts+threads; metricTimepoints implies
// attributes+threads.
func (c Class) Expand() Class {
	out := c
	if out.Has(Metrics) {
		out |= Attributes | Threads
	}
	if out.Has(Contexts) {
		out |= References
	}
	if out.Has(CtxTimepoints) {
		out |= Contexts | Threads
		// re-expand in case Contexts pulled in References above
		out |= References
	}
	if out.Has(MetricTimepoints) {
		out |= Attributes | Threads
	}
	return out
}

// Extension is a bitset over the kinds of derived annotations Finalizers can
// attach to data-model entities.
type Extension uint8

const (
	Classification Extension = 1 << iota
	Identifier
	ResolvedPath
	Statistics
)

// AllExtensions is the universal set of extension classes.
const AllExtensions Extension = Classification | Identifier | ResolvedPath | Statistics

func (e Extension) Union(o Extension) Extension     { return e | o }
func (e Extension) Sub(o Extension) Extension       { return e &^ o }
func (e Extension) Intersect(o Extension) Extension { return e & o }
func (e Extension) HasAny() bool                    { return e != 0 }
func (e Extension) Has(o Extension) bool            { return e&o == o }
func (e Extension) AnyOf(o Extension) bool          { return e&o != 0 }
func (e Extension) AllOf(o Extension) bool          { return e&o == o }

func (e Extension) String() string {
	var b strings.Builder
	b.WriteByte('[')
	if e.Has(Identifier) {
		b.WriteByte('i')
	}
	if e.Has(Statistics) {
		b.WriteByte('s')
	}
	if e.AnyOf(Identifier|Statistics) && e.AnyOf(Classification|ResolvedPath) {
		b.WriteByte(' ')
	}
	if e.Has(Classification) {
		b.WriteByte('c')
	}
	if e.Has(ResolvedPath) {
		b.WriteByte('r')
	}
	b.WriteByte(']')
	return b.String()
}
