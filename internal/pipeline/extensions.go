package pipeline

import (
	"path/filepath"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
)

// ModuleClassifier and FileClassifier are the optional Finalizer interfaces
// for the Classification extension — structfile-style Finalizers attach
// parsed binary structure via these.
type ModuleClassifier interface {
	ClassifyModule(*model.Module) (any, bool)
}

type FileClassifier interface {
	ClassifyFile(*model.File) (any, bool)
}

func (p *ProfilePipeline) bucket(ext dataclass.Extension) []Finalizer {
	b, ok := p.resolved.buckets[ext]
	if !ok {
		return nil
	}
	return b.finalizers
}

// IdentifyModule returns m's dense id, computing and caching it on first
// call by trying each Identifier-bucket Finalizer in registration order
// (first hit wins); ok is false only if no Finalizer ever assigns one.
func (p *ProfilePipeline) IdentifyModule(m *model.Module) (int, bool) {
	if id, ok := m.ID(); ok {
		return id, true
	}
	for _, f := range p.bucket(dataclass.Identifier) {
		if mi, ok := f.(ModuleIdentifier); ok {
			if id, ok2 := mi.IdentifyModule(m); ok2 {
				m.SetID(id)
				return m.ID()
			}
		}
	}
	return 0, false
}

func (p *ProfilePipeline) IdentifyFile(f *model.File) (int, bool) {
	if id, ok := f.ID(); ok {
		return id, true
	}
	for _, fin := range p.bucket(dataclass.Identifier) {
		if fi, ok := fin.(FileIdentifier); ok {
			if id, ok2 := fi.IdentifyFile(f); ok2 {
				f.SetID(id)
				return f.ID()
			}
		}
	}
	return 0, false
}

func (p *ProfilePipeline) IdentifyThread(t *model.Thread) (int, bool) {
	if id, ok := t.ID(); ok {
		return id, true
	}
	for _, fin := range p.bucket(dataclass.Identifier) {
		if ti, ok := fin.(ThreadIdentifier); ok {
			if id, ok2 := ti.IdentifyThread(t); ok2 {
				t.SetID(id)
				return t.ID()
			}
		}
	}
	return 0, false
}

func (p *ProfilePipeline) IdentifyContext(c *model.Context) (int, bool) {
	if id, ok := c.ID(); ok {
		return id, true
	}
	for _, fin := range p.bucket(dataclass.Identifier) {
		if ci, ok := fin.(ContextIdentifier); ok {
			if id, ok2 := ci.IdentifyContext(c); ok2 {
				c.SetID(id)
				return c.ID()
			}
		}
	}
	return 0, false
}

// IdentifyMetric resolves m's dense id block, calling SetID(base) on first
// resolution so the block size is computed from m's final (frozen)
// Partials/Scopes.
func (p *ProfilePipeline) IdentifyMetric(m *model.Metric) (base, block int, ok bool) {
	if base, block, ok = m.ID(); ok {
		return
	}
	for _, fin := range p.bucket(dataclass.Identifier) {
		if mi, ok2 := fin.(MetricIdentifier); ok2 {
			if id, ok3 := mi.IdentifyMetric(m); ok3 {
				m.SetID(id)
				return m.ID()
			}
		}
	}
	return 0, 0, false
}

// ResolveModulePath returns m's resolved path, trying every ResolvedPath-
// bucket Finalizer, falling back to m's original path if absolute, else "".
func (p *ProfilePipeline) ResolveModulePath(m *model.Module) string {
	if rp, ok := m.ResolvedPath(); ok {
		return rp
	}
	for _, fin := range p.bucket(dataclass.ResolvedPath) {
		if mr, ok := fin.(ModulePathResolver); ok {
			if rp, ok2 := mr.ResolveModulePath(m); ok2 {
				m.SetResolvedPath(rp)
				rp, _ = m.ResolvedPath()
				return rp
			}
		}
	}
	if filepath.IsAbs(m.Path()) {
		m.SetResolvedPath(m.Path())
	} else {
		m.SetResolvedPath("")
	}
	rp, _ := m.ResolvedPath()
	return rp
}

func (p *ProfilePipeline) ResolveFilePath(f *model.File) string {
	if rp, ok := f.ResolvedPath(); ok {
		return rp
	}
	for _, fin := range p.bucket(dataclass.ResolvedPath) {
		if fr, ok := fin.(FilePathResolver); ok {
			if rp, ok2 := fr.ResolveFilePath(f); ok2 {
				f.SetResolvedPath(rp)
				rp, _ = f.ResolvedPath()
				return rp
			}
		}
	}
	if filepath.IsAbs(f.Path()) {
		f.SetResolvedPath(f.Path())
	} else {
		f.SetResolvedPath("")
	}
	rp, _ := f.ResolvedPath()
	return rp
}

// ClassifyModule resolves m's Classification extension payload via the
// first matching ModuleClassifier Finalizer.
func (p *ProfilePipeline) ClassifyModule(m *model.Module) (any, bool) {
	if c := m.Classification(); c != nil {
		return c, true
	}
	for _, fin := range p.bucket(dataclass.Classification) {
		if mc, ok := fin.(ModuleClassifier); ok {
			if v, ok2 := mc.ClassifyModule(m); ok2 {
				m.SetClassification(v)
				return m.Classification(), true
			}
		}
	}
	return nil, false
}

func (p *ProfilePipeline) ClassifyFile(f *model.File) (any, bool) {
	for _, fin := range p.bucket(dataclass.Classification) {
		if fc, ok := fin.(FileClassifier); ok {
			if v, ok2 := fc.ClassifyFile(f); ok2 {
				return v, true
			}
		}
	}
	return nil, false
}
