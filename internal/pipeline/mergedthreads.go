package pipeline

import (
	"sync"

	"github.com/hpcpipeline/profcore/internal/model"
)

// mergedThreadRegistry maps an identity-tuple key to the shared
// PerThreadTemporary multiple Sources contribute to when their reported
// Thread identities collide. Lookup is double-checked under an RWMutex: the
// common case (an already-registered identity) only takes the read lock.
type mergedThreadRegistry struct {
	mu      sync.RWMutex
	byKey   map[string]*model.PerThreadTemporary
	threads map[string]*model.Thread
}

func newMergedThreadRegistry() *mergedThreadRegistry {
	return &mergedThreadRegistry{
		byKey:   make(map[string]*model.PerThreadTemporary),
		threads: make(map[string]*model.Thread),
	}
}

// mergedThread returns the shared PerThreadTemporary for attrs's identity,
// constructing (and the backing Thread) atomically if this is the first
// Source to report this identity tuple. created reports whether this call
// did the constructing.
func (r *mergedThreadRegistry) mergedThread(attrs model.ThreadAttributes) (pt *model.PerThreadTemporary, thread *model.Thread, created bool) {
	key := attrs.Identity.Key()

	r.mu.RLock()
	if pt, ok := r.byKey[key]; ok {
		th := r.threads[key]
		r.mu.RUnlock()
		return pt, th, false
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if pt, ok := r.byKey[key]; ok {
		return pt, r.threads[key], false
	}
	th := model.NewThread(attrs)
	pt = model.NewPerThreadTemporary(th)
	r.byKey[key] = pt
	r.threads[key] = th
	return pt, th, true
}

// drain returns a snapshot of every registered (Thread, PerThreadTemporary)
// pair, for the dedicated parallel finalization phase run after all
// per-Source threads have been drained.
func (r *mergedThreadRegistry) drain() []struct {
	Thread *model.Thread
	Temp   *model.PerThreadTemporary
} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]struct {
		Thread *model.Thread
		Temp   *model.PerThreadTemporary
	}, 0, len(r.byKey))
	for key, pt := range r.byKey {
		out = append(out, struct {
			Thread *model.Thread
			Temp   *model.PerThreadTemporary
		}{Thread: r.threads[key], Temp: pt})
	}
	return out
}
