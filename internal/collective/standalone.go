package collective

import "context"

// Standalone is the degenerate Collective for a single-rank run: every
// operation is a local no-op returning the caller's own data, matching the
// original's standalone.cpp backend used when no multi-rank transport is
// configured.
type Standalone struct{}

func NewStandalone() Standalone { return Standalone{} }

func (Standalone) Rank() int { return 0 }
func (Standalone) Size() int { return 1 }

func (Standalone) Barrier(ctx context.Context) error { return nil }

func (Standalone) Bcast(ctx context.Context, data []byte, root int) ([]byte, error) {
	return data, nil
}

func (Standalone) Reduce(ctx context.Context, local []byte, combine Combine, root int) ([]byte, error) {
	return local, nil
}

func (Standalone) AllReduce(ctx context.Context, local []byte, combine Combine) ([]byte, error) {
	return local, nil
}

func (Standalone) Exscan(ctx context.Context, local []byte, combine Combine, zero []byte) ([]byte, error) {
	return zero, nil
}
