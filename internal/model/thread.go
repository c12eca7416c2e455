package model

import (
	"fmt"
	"strings"
)

// IdentityKind tags one component of a Thread's identity tuple.
type IdentityKind uint8

const (
	IdentityNode IdentityKind = iota
	IdentityRank
	IdentityThread
	IdentityGPUContext
	IdentityGPUStream
	IdentityCore
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityNode:
		return "NODE"
	case IdentityRank:
		return "RANK"
	case IdentityThread:
		return "THREAD"
	case IdentityGPUContext:
		return "GPUCONTEXT"
	case IdentityGPUStream:
		return "GPUSTREAM"
	case IdentityCore:
		return "CORE"
	default:
		return "?"
	}
}

// IdentityTriple is one (kind, logical-index, physical-index) component of a
// Thread's identity tuple.
type IdentityTriple struct {
	Kind     IdentityKind
	Logical  uint32
	Physical uint32
}

// Identity is the full identity tuple distinguishing one Thread from
// another, and the key used to detect Threads that should be merged across
// Sources.
type Identity []IdentityTriple

// Key renders the identity as a string suitable for use as a map key; two
// Identities compare equal under Key iff they are the same tuple.
func (id Identity) Key() string {
	var b strings.Builder
	for i, t := range id {
		if i > 0 {
			b.WriteByte('/')
		}
		fmt.Fprintf(&b, "%s:%d:%d", t.Kind, t.Logical, t.Physical)
	}
	return b.String()
}

// ThreadAttributes carries a Thread's identity and the disorder bounds
// declared for its ctx and per-metric timepoint streams.
type ThreadAttributes struct {
	Identity Identity

	// CtxDisorderBound is the initial declared K for the ctx timepoint
	// stream; 0 means the Source made no declaration (treated as K=0, the
	// strictest bound: a two-entry reorder buffer).
	CtxDisorderBound int
	// MetricDisorderBound is the default K for metric timepoint streams not
	// otherwise specified in PerMetricDisorderBound.
	MetricDisorderBound int
	PerMetricDisorderBound map[*Metric]int
}

// Thread is a single measured thread of execution (which, depending on the
// Source, may represent an OS thread, an MPI rank, a GPU stream, etc).
type Thread struct {
	Attrs ThreadAttributes

	id    int
	hasID bool
}

func newThread(attrs ThreadAttributes) *Thread {
	return &Thread{Attrs: attrs}
}

// NewThread constructs a fresh Thread. Unlike Module/File/Metric, Threads
// are not interned by the Registry — each Source-reported thread is its own
// object unless the Pipeline's merged-thread registry determines two
// Sources are reporting the same physical thread.
func NewThread(attrs ThreadAttributes) *Thread { return newThread(attrs) }

func (t *Thread) SetID(id int) { t.id = id; t.hasID = true }
func (t *Thread) ID() (int, bool) { return t.id, t.hasID }

// Ready reports whether the Thread has accumulated enough attributes to be
// usable (i.e. it has a non-empty Identity).
func (t *Thread) Ready() bool { return len(t.Attrs.Identity) > 0 }
