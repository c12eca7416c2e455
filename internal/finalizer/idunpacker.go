package finalizer

import (
	"strings"
	"sync"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
	"github.com/hpcpipeline/profcore/internal/packed"
	"github.com/hpcpipeline/profcore/internal/pipeline"
)

// IDUnpacker is the distributed-mode counterpart to DenseIds: on every rank
// other than the one that ran the real ingest (rank 0), it assigns
// Identifier extensions purely by replaying the packed blob rank 0 emitted,
// so every rank ends up with the same dense ids without re-deriving them
// from scratch.
//
// Load order matters: LoadReferences must run before LoadContexts, since
// context Scopes reference Modules/Files by the dense id LoadReferences
// assigns.
type IDUnpacker struct {
	pipeline.BaseFinalizer

	p *pipeline.ProfilePipeline

	mu sync.Mutex

	moduleIDs  map[string]int
	modulePath map[int]string
	fileIDs    map[string]int
	filePath   map[int]string

	metricBase  map[string]int
	metricBlock map[string]int

	ctxIDs map[string]int
}

func NewIDUnpacker() *IDUnpacker {
	return &IDUnpacker{
		moduleIDs:   make(map[string]int),
		modulePath:  make(map[int]string),
		fileIDs:     make(map[string]int),
		filePath:    make(map[int]string),
		metricBase:  make(map[string]int),
		metricBlock: make(map[string]int),
		ctxIDs:      make(map[string]int),
	}
}

func (u *IDUnpacker) Provides() dataclass.Extension     { return dataclass.Identifier }
func (u *IDUnpacker) Requirements() dataclass.Extension { return 0 }

func (u *IDUnpacker) NotifyPipeline(p *pipeline.ProfilePipeline) { u.p = p }

// LoadReferences replays a references blob, assigning Module/File dense ids
// by their position in the blob — the same order DenseIds used to assign
// them on the originating rank, since both ranks intern the same run's
// Modules/Files in the same arrival order.
func (u *IDUnpacker) LoadReferences(blob []byte) error {
	refs, err := packed.DecodeReferences(blob)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, m := range refs.Modules {
		u.moduleIDs[m.Path] = i
		u.modulePath[i] = m.Path
	}
	for i, f := range refs.Files {
		u.fileIDs[f.Path] = i
		u.filePath[i] = f.Path
	}
	return nil
}

// LoadAttributes replays an attributes blob, assigning Metric dense id
// blocks in the same sequential-allocation order DenseIds.IdentifyMetric
// uses: base accumulates across metrics in blob order, each metric's block
// sized max(partials,1) * scopes.Count().
func (u *IDUnpacker) LoadAttributes(blob []byte) error {
	attrs, err := packed.DecodeAttributes(blob)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	base := 0
	for _, m := range attrs.Metrics {
		partials := m.Partials
		if partials == 0 {
			partials = 1
		}
		block := partials * m.Scopes.Count()
		u.metricBase[m.Name] = base
		u.metricBlock[m.Name] = block
		base += block
	}
	return nil
}

// LoadContexts replays a contexts blob, assigning Context ids by matching
// each local Context against the decoded tree via a structural path key
// (the joined string of NestedScope edges from root), since Context
// pointers are never shared across ranks.
func (u *IDUnpacker) LoadContexts(blob []byte, res packed.Resolvers) error {
	root, err := packed.DecodeContexts(blob, res)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	indexDecodedContext(root, "", u.ctxIDs)
	return nil
}

func indexDecodedContext(node *packed.DecodedContext, parentPath string, out map[string]int) {
	path := parentPath + "/" + model.NS(node.Relation, node.Scope).String()
	out[path] = node.ID
	for _, c := range node.Children {
		indexDecodedContext(c, path, out)
	}
}

func contextPathKey(c *model.Context) string {
	var edges []string
	for cur := c; cur.Parent() != nil; cur = cur.Parent() {
		edges = append(edges, cur.Edge().String())
	}
	var b strings.Builder
	for i := len(edges) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(edges[i])
	}
	return b.String()
}

func (u *IDUnpacker) IdentifyModule(m *model.Module) (int, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	id, ok := u.moduleIDs[m.Path()]
	return id, ok
}

func (u *IDUnpacker) IdentifyFile(f *model.File) (int, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	id, ok := u.fileIDs[f.Path()]
	return id, ok
}

func (u *IDUnpacker) IdentifyMetric(m *model.Metric) (int, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	id, ok := u.metricBase[m.Settings.Name]
	return id, ok
}

func (u *IDUnpacker) IdentifyContext(c *model.Context) (int, bool) {
	if c.Parent() == nil {
		return 0, true
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	id, ok := u.ctxIDs[contextPathKey(c)]
	return id, ok
}

// ModuleResolver/FileResolver implementations, so IDUnpacker can itself
// serve as the packed.Resolvers a later LoadContexts call needs once
// references have been loaded.
func (u *IDUnpacker) ModuleID(m *model.Module) int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	if id, ok := u.moduleIDs[m.Path()]; ok {
		return int64(id)
	}
	return -1
}

func (u *IDUnpacker) ModuleByID(id int64) *model.Module {
	u.mu.Lock()
	path, ok := u.modulePath[int(id)]
	u.mu.Unlock()
	if !ok || u.p == nil {
		return nil
	}
	m, _ := u.p.Registry().Module(path)
	return m
}

func (u *IDUnpacker) FileID(f *model.File) int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	if id, ok := u.fileIDs[f.Path()]; ok {
		return int64(id)
	}
	return -1
}

func (u *IDUnpacker) FileByID(id int64) *model.File {
	u.mu.Lock()
	path, ok := u.filePath[int(id)]
	u.mu.Unlock()
	if !ok || u.p == nil {
		return nil
	}
	f, _ := u.p.Registry().File(path)
	return f
}
