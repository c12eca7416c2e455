package pipeline

import (
	"github.com/hpcpipeline/profcore/internal/dataclass"
)

// finalizerBucket holds the Finalizers that provide one Extension bit, in
// registration order, so binding can try them in order and take the first
// hit.
type finalizerBucket struct {
	ext        dataclass.Extension
	finalizers []Finalizer
}

// Settings is the single-threaded configuration builder a caller populates
// before calling Build: a config-struct-then-validate pattern, rather than
// exposing a mutable Pipeline from the start.
type Settings struct {
	sources    []Source
	finalizers []Finalizer
	sinks      []Sink

	// orderedWavefrontChain/orderedWriteChain hold Sinks that are handled
	// first, in registration order, in their respective phase. In the write
	// phase this orders only when each Write starts: with a team larger
	// than one, a chained Sink's Write can begin before the previous
	// chained Sink's Write has returned.
	orderedWavefrontChain []Sink
	orderedWriteChain     []Sink

	teamSize int
}

// NewSettings returns an empty builder. teamSize is the fixed worker-team
// size used during the run phase; if <= 0 it defaults to 1 (serial
// execution, used by tests and the standalone/no-MPI path).
func NewSettings(teamSize int) *Settings {
	if teamSize <= 0 {
		teamSize = 1
	}
	return &Settings{teamSize: teamSize}
}

func (s *Settings) AddSource(src Source) *Settings {
	s.sources = append(s.sources, src)
	return s
}

func (s *Settings) AddFinalizer(f Finalizer) *Settings {
	s.finalizers = append(s.finalizers, f)
	return s
}

func (s *Settings) AddSink(sink Sink) *Settings {
	s.sinks = append(s.sinks, sink)
	return s
}

// AddSinkToWavefrontChain both registers sink and appends it to the ordered
// wavefront-delivery chain.
func (s *Settings) AddSinkToWavefrontChain(sink Sink) *Settings {
	s.AddSink(sink)
	s.orderedWavefrontChain = append(s.orderedWavefrontChain, sink)
	return s
}

// AddSinkToWriteChain both registers sink and appends it to the ordered
// write chain.
func (s *Settings) AddSinkToWriteChain(sink Sink) *Settings {
	s.AddSink(sink)
	s.orderedWriteChain = append(s.orderedWriteChain, sink)
	return s
}

// resolved is the product of Settings validation: expanded accepts per Sink,
// the union of all expanded accepts, and the Finalizer buckets per
// extension.
type resolved struct {
	sinkAccepts map[Sink]dataclass.Class
	unionAccept dataclass.Class
	buckets     map[dataclass.Extension]*finalizerBucket
}

// build validates the declared collaborators and produces the resolved
// negotiation state consumed by the Pipeline's bind/freeze/run phases.
func (s *Settings) build() *resolved {
	r := &resolved{
		sinkAccepts: make(map[Sink]dataclass.Class, len(s.sinks)),
		buckets:     make(map[dataclass.Extension]*finalizerBucket),
	}

	for _, sink := range s.sinks {
		expanded := sink.Accepts().Expand()
		r.sinkAccepts[sink] = expanded
		r.unionAccept = r.unionAccept.Union(expanded)
	}

	// Index Finalizers into buckets by each bit of their Provides(); a
	// Finalizer providing multiple extensions appears in multiple buckets.
	allBits := []dataclass.Extension{
		dataclass.Classification,
		dataclass.Identifier,
		dataclass.ResolvedPath,
		dataclass.Statistics,
	}
	for _, f := range s.finalizers {
		provides := f.Provides()
		requires := f.Requirements()
		if provides&requires != 0 {
			// Contract violation: provides must be disjoint from requires.
			// ProfilePipeline.Configure turns this into a fatal via fault.
			continue
		}
		for _, bit := range allBits {
			if provides.Has(bit) {
				b, ok := r.buckets[bit]
				if !ok {
					b = &finalizerBucket{ext: bit}
					r.buckets[bit] = b
				}
				b.finalizers = append(b.finalizers, f)
			}
		}
	}

	return r
}
