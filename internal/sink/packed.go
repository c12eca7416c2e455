package sink

import (
	"fmt"
	"sync"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
	"github.com/hpcpipeline/profcore/internal/packed"
	"github.com/hpcpipeline/profcore/internal/pipeline"
	"github.com/hpcpipeline/profcore/pkg/archive/parquet"
)

// IdPacker is the Sink that runs on the rank that performed real ingest: it
// serializes references, attributes, contexts and flow graphs into the blob
// formats internal/packed defines, for every other rank to replay via
// internal/finalizer's IDUnpacker and internal/source's PackedSource without
// re-deriving dense ids independently.
type IdPacker struct {
	pipeline.BaseSink

	p      *pipeline.ProfilePipeline
	target parquet.ParquetTarget

	mu     sync.Mutex
	res    *registryResolver
}

func NewIdPacker(target parquet.ParquetTarget) *IdPacker {
	return &IdPacker{target: target}
}

func (*IdPacker) Accepts() dataclass.Class {
	return dataclass.References | dataclass.Attributes | dataclass.Contexts | dataclass.Metrics
}

func (*IdPacker) Requirements() dataclass.Extension { return dataclass.Identifier }

func (i *IdPacker) NotifyPipeline(p *pipeline.ProfilePipeline) { i.p = p }

func (i *IdPacker) Write() error {
	res := i.resolver()

	if err := i.writeReferences(); err != nil {
		return err
	}
	if err := i.writeAttributes(); err != nil {
		return err
	}
	if err := i.writeContexts(res); err != nil {
		return err
	}
	return i.writeFlowGraphs(res)
}

func (*IdPacker) Help() (contributed bool, completed bool) { return false, true }

func (i *IdPacker) resolver() packed.Resolvers {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.res == nil {
		i.res = newRegistryResolver(i.p)
	}
	return packed.Resolvers{Modules: i.res, Files: i.res}
}

func (i *IdPacker) writeReferences() error {
	var payload packed.ReferencesPayload
	for _, m := range i.p.Registry().Modules() {
		payload.Modules = append(payload.Modules, packed.ModuleRef{
			Path:    m.Path(),
			RelPath: i.p.ResolveModulePath(m),
		})
	}
	for _, f := range i.p.Registry().Files() {
		payload.Files = append(payload.Files, packed.FileRef{
			Path:    f.Path(),
			RelPath: i.p.ResolveFilePath(f),
		})
	}
	blob, err := packed.EncodeReferences(payload)
	if err != nil {
		return fmt.Errorf("idpacker: references: %w", err)
	}
	return i.target.WriteFile("references.avro", blob)
}

func (i *IdPacker) writeAttributes() error {
	metrics := i.p.Registry().MetricsList()
	var payload packed.AttributesPayload
	for _, m := range metrics {
		payload.Metrics = append(payload.Metrics, packed.MetricAttr{
			Name:       m.Settings.Name,
			Desc:       m.Settings.Description,
			Scopes:     m.Settings.Scopes,
			Vis:        m.Settings.Visibility,
			HasOrderID: m.Settings.HasOrderID,
			OrderID:    m.Settings.OrderID,
			Partials:   len(m.Partials),
		})
	}
	names := metricNameIndex(metrics)
	for _, es := range i.p.Registry().ExtraStatistics() {
		payload.ExtraStats = append(payload.ExtraStats, packed.ExtraStatAttr{
			Name:    es.Settings.Name,
			Desc:    es.Settings.Description,
			Scopes:  es.Settings.Scopes,
			Formula: es.Formula.Render(func(uv int) string { return names[uv] }),
		})
	}
	blob, err := packed.EncodeAttributes(payload)
	if err != nil {
		return fmt.Errorf("idpacker: attributes: %w", err)
	}
	return i.target.WriteFile("attributes.avro", blob)
}

func (i *IdPacker) writeContexts(res packed.Resolvers) error {
	blob := packed.EncodeContexts(i.p.Registry().Arena().Root(), res)
	return i.target.WriteFile("contexts.bin", blob)
}

func (i *IdPacker) writeFlowGraphs(res packed.Resolvers) error {
	graphs := i.p.Registry().FlowGraphs()
	views := make([]packed.FlowGraphView, 0, len(graphs))
	for _, g := range graphs {
		view := packed.FlowGraphView{Scope: g.Scope, Entries: g.Entries()}
		for _, t := range g.Templates() {
			view.Templates = append(view.Templates, t.Path)
		}
		views = append(views, view)
	}
	blob := packed.EncodeFlowGraphs(views, res)
	return i.target.WriteFile("flowgraphs.bin", blob)
}

// registryResolver implements packed.ModuleResolver/FileResolver over the
// Registry's already-assigned dense ids, for the encoding side of the
// packed transport (the decoding side's equivalent lives in
// internal/finalizer.IDUnpacker and internal/source.PackedSource).
type registryResolver struct {
	p *pipeline.ProfilePipeline

	mu       sync.Mutex
	byModID  map[int64]*model.Module
	byFileID map[int64]*model.File
}

func newRegistryResolver(p *pipeline.ProfilePipeline) *registryResolver {
	r := &registryResolver{p: p, byModID: make(map[int64]*model.Module), byFileID: make(map[int64]*model.File)}
	for _, m := range p.Registry().Modules() {
		if id, ok := p.IdentifyModule(m); ok {
			r.byModID[int64(id)] = m
		}
	}
	for _, f := range p.Registry().Files() {
		if id, ok := p.IdentifyFile(f); ok {
			r.byFileID[int64(id)] = f
		}
	}
	return r
}

func (r *registryResolver) ModuleID(m *model.Module) int64 {
	id, ok := r.p.IdentifyModule(m)
	if !ok {
		return -1
	}
	return int64(id)
}

func (r *registryResolver) ModuleByID(id int64) *model.Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byModID[id]
}

func (r *registryResolver) FileID(f *model.File) int64 {
	id, ok := r.p.IdentifyFile(f)
	if !ok {
		return -1
	}
	return int64(id)
}

func (r *registryResolver) FileByID(id int64) *model.File {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byFileID[id]
}
