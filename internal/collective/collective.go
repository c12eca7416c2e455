// Package collective implements the tree-shaped cross-rank reduction layer
// used by the distributed packed-transport mode (see internal/packed). The
// wire protocol a concrete backend uses to actually move bytes between
// ranks is external to this package — Transport is the narrow contract a
// real MPI/gRPC/whatever backend satisfies; this package only owns the tree
// shape, the reduce/broadcast/exscan algorithms built on top of it, and the
// shared-accumulator service.
package collective

import "context"

// Transport is the point-to-point contract a concrete multi-rank backend
// provides. Implementing one is explicitly out of scope here — a real
// backend (MPI, a gRPC mesh, whatever) is expected to supply it.
type Transport interface {
	Rank() int
	Size() int
	Send(ctx context.Context, dest int, data []byte) error
	Receive(ctx context.Context, src int) ([]byte, error)
}

// Combine merges two partial reduction payloads into one, associatively.
type Combine func(a, b []byte) []byte

// Collective is the operation set a Sink/Finalizer needing distributed
// reduction depends on. Standalone and Tree are the two implementations:
// Standalone for a single-rank run, Tree for a real multi-rank Transport.
type Collective interface {
	Rank() int
	Size() int

	// Barrier blocks until every rank has called Barrier.
	Barrier(ctx context.Context) error

	// Bcast distributes root's data to every rank, returning it.
	Bcast(ctx context.Context, data []byte, root int) ([]byte, error)

	// Reduce combines every rank's local payload into one at root using
	// combine, returning nil on non-root ranks.
	Reduce(ctx context.Context, local []byte, combine Combine, root int) ([]byte, error)

	// AllReduce is Reduce followed by a Bcast of the result to every rank.
	AllReduce(ctx context.Context, local []byte, combine Combine) ([]byte, error)

	// Exscan returns, for rank r, the combination of ranks [0, r) — the
	// exclusive prefix reduction, used to compute per-rank base offsets
	// (e.g. a dense-id block start) without a full AllReduce.
	Exscan(ctx context.Context, local []byte, combine Combine, zero []byte) ([]byte, error)
}
