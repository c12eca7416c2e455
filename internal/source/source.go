// Package source collects concrete Source implementations and the shared
// Base helper they embed: live NATS-subscribed sample batches, line-protocol
// encoded records, and the distributed-mode packed-blob replay source.
package source

import (
	"sync"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
	"github.com/hpcpipeline/profcore/internal/pipeline"
)

// Base gives a concrete Source the lazy module/file interning convenience
// every ingest-style Source needs: looking a path up by string repeatedly is
// cheap (the Handle's Registry call is itself cached), but concrete Sources
// tend to want a typed, Source-local cache on top keyed by whatever opaque
// identifier their wire format uses (a sample batch rarely repeats the full
// path string for every point). Embed Base and call ModuleFor/FileFor
// instead of going through the Handle directly.
type Base struct {
	mu      sync.Mutex
	modules map[string]*model.Module
	files   map[string]*model.File
}

func (b *Base) init() {
	if b.modules == nil {
		b.modules = make(map[string]*model.Module)
		b.files = make(map[string]*model.File)
	}
}

// ModuleFor interns path via h, caching the result against repeat lookups
// from this Source.
func (b *Base) ModuleFor(h *pipeline.Handle, path string) *model.Module {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.init()
	if m, ok := b.modules[path]; ok {
		return m
	}
	m := h.Module(path)
	b.modules[path] = m
	return m
}

// FileFor interns path via h, caching the result against repeat lookups from
// this Source.
func (b *Base) FileFor(h *pipeline.Handle, path string) *model.File {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.init()
	if f, ok := b.files[path]; ok {
		return f
	}
	f := h.File(path)
	b.files[path] = f
	return f
}

// FinalizeRequest is the common identity implementation: these Sources have
// no internal dependency closure between data classes, so whatever is asked
// for is exactly what gets read.
func (Base) FinalizeRequest(class dataclass.Class) dataclass.Class { return class }
