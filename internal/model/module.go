package model

import "sync"

// Module is interned by canonical path; it lives for the pipeline's
// lifetime once created. It carries two Finalizer-populated userdata slots:
// a resolved filesystem path and an opaque classification blob (the parsed
// structfile, once a classifying Finalizer has read one).
type Module struct {
	path string
	id   int
	hasID bool

	mu            sync.Mutex
	resolvedPath  string
	hasResolved   bool
	classification any
}

func newModule(path string) *Module {
	return &Module{path: path}
}

// Path returns the canonical path this Module was interned by.
func (m *Module) Path() string { return m.path }

// SetResolvedPath records the Finalizer-computed resolved path. Only the
// first writer wins; later callers are no-ops, matching the "first Finalizer
// to answer wins" binding semantics applied once per entity.
func (m *Module) SetResolvedPath(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasResolved {
		m.resolvedPath = p
		m.hasResolved = true
	}
}

func (m *Module) ResolvedPath() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolvedPath, m.hasResolved
}

// SetClassification stores the Finalizer-parsed structural data for this
// Module (e.g. a decoded structfile). Idempotent: first writer wins.
func (m *Module) SetClassification(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.classification == nil {
		m.classification = v
	}
}

func (m *Module) Classification() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classification
}

// SetID assigns m's dense identifier exactly once; later calls are no-ops.
func (m *Module) SetID(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasID {
		m.id, m.hasID = id, true
	}
}

func (m *Module) ID() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, m.hasID
}

// File is interned by path; carries a resolved-path userdata slot.
type File struct {
	path  string
	id    int
	hasID bool

	mu           sync.Mutex
	resolvedPath string
	hasResolved  bool
}

func newFile(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

func (f *File) SetResolvedPath(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasResolved {
		f.resolvedPath = p
		f.hasResolved = true
	}
}

func (f *File) ResolvedPath() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolvedPath, f.hasResolved
}

// SetID assigns f's dense identifier exactly once; later calls are no-ops.
func (f *File) SetID(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasID {
		f.id, f.hasID = id, true
	}
}

func (f *File) ID() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id, f.hasID
}

// Function belongs to exactly one Module. Functions are not interned:
// multiple Function values with the same name may exist, distinguished by
// entry address.
type Function struct {
	Module *Module
	Name   string

	HasEntry bool
	Entry    uint64

	File *File
	Line uint64
}
