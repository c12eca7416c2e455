package source

import (
	"fmt"
	"sync"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
	"github.com/hpcpipeline/profcore/internal/packed"
	"github.com/hpcpipeline/profcore/internal/pipeline"
)

// PackedSource is the distributed-mode Source that reconstructs a rank's
// contribution purely by replaying the packed blobs the root rank produced,
// rather than re-ingesting raw samples: every non-root rank in a reduction
// tree runs one of these instead of a live sample Source, so the Pipeline
// ends up with a real Module/File/Metric/Context tree on every rank without
// repeating classification work rank 0 already did.
//
// It doubles as its own packed.Resolvers for decoding the Contexts section,
// translating the dense ids References assigned back into the real
// *model.Module/*model.File this rank interned during that same load.
type PackedSource struct {
	References []byte
	Attributes []byte
	Contexts   []byte

	mu         sync.Mutex
	moduleByID map[int64]*model.Module
	fileByID   map[int64]*model.File
}

func (s *PackedSource) Provides() dataclass.Class {
	return dataclass.References | dataclass.Attributes | dataclass.Contexts
}

func (s *PackedSource) FinalizeRequest(class dataclass.Class) dataclass.Class { return class }

// Read replays, in order, the references, attributes, and contexts sections
// present in the requested mask. Loading references before contexts matters:
// contexts' Scopes reference Modules/Files by dense id assigned during the
// references load.
func (s *PackedSource) Read(h *pipeline.Handle, mask dataclass.Class) error {
	if mask.Has(dataclass.References) {
		if err := s.loadReferences(h); err != nil {
			return fmt.Errorf("packedsource: references: %w", err)
		}
	}
	if mask.Has(dataclass.Attributes) {
		if err := s.loadAttributes(h); err != nil {
			return fmt.Errorf("packedsource: attributes: %w", err)
		}
	}
	if mask.Has(dataclass.Contexts) {
		if err := s.loadContexts(h); err != nil {
			return fmt.Errorf("packedsource: contexts: %w", err)
		}
	}
	return nil
}

func (s *PackedSource) loadReferences(h *pipeline.Handle) error {
	refs, err := packed.DecodeReferences(s.References)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moduleByID = make(map[int64]*model.Module, len(refs.Modules))
	s.fileByID = make(map[int64]*model.File, len(refs.Files))
	for i, m := range refs.Modules {
		mod := h.Module(m.Path)
		if m.RelPath != "" {
			mod.SetResolvedPath(m.RelPath)
		}
		s.moduleByID[int64(i)] = mod
	}
	for i, f := range refs.Files {
		file := h.File(f.Path)
		if f.RelPath != "" {
			file.SetResolvedPath(f.RelPath)
		}
		s.fileByID[int64(i)] = file
	}
	return nil
}

func (s *PackedSource) loadAttributes(h *pipeline.Handle) error {
	attrs, err := packed.DecodeAttributes(s.Attributes)
	if err != nil {
		return err
	}
	names := make(map[string]int, len(attrs.Metrics))
	for i, ma := range attrs.Metrics {
		m := h.Metric(model.MetricSettings{
			Name:        ma.Name,
			Description: ma.Desc,
			Visibility:  ma.Vis,
			Scopes:      ma.Scopes,
			OrderID:     ma.OrderID,
			HasOrderID:  ma.HasOrderID,
		})
		partials := ma.Partials
		if partials == 0 {
			partials = 1
		}
		for p := 0; p < partials; p++ {
			m.AddPartial(model.Partial{Combinator: model.CombSum, Accumulate: model.Var(0)})
		}
		h.FreezeMetric(m)
		names[ma.Name] = i
	}
	for _, ea := range attrs.ExtraStats {
		formula, err := model.CompileFormula(ea.Formula, names)
		if err != nil {
			return fmt.Errorf("extra statistic %q: %w", ea.Name, err)
		}
		h.ExtraStatistic(model.ExtraStatisticSettings{
			Name:        ea.Name,
			Description: ea.Desc,
			Scopes:      ea.Scopes,
		}, formula)
	}
	return nil
}

func (s *PackedSource) loadContexts(h *pipeline.Handle) error {
	res := packed.Resolvers{Modules: s, Files: s}
	root, err := packed.DecodeContexts(s.Contexts, res)
	if err != nil {
		return err
	}
	for _, child := range root.Children {
		s.replay(h, h.Root(), child)
	}
	return nil
}

func (s *PackedSource) replay(h *pipeline.Handle, parent *model.Context, node *packed.DecodedContext) {
	_, ctx := h.Context(parent, model.NS(node.Relation, node.Scope))
	for _, child := range node.Children {
		s.replay(h, ctx, child)
	}
}

// ModuleID/ModuleByID/FileID/FileByID implement packed.ModuleResolver and
// packed.FileResolver. ModuleID/FileID are never called during a decode-only
// replay (scope decoding only needs the ByID direction) but are required by
// the Resolvers bundle's shape.
func (s *PackedSource) ModuleID(m *model.Module) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, mod := range s.moduleByID {
		if mod == m {
			return id
		}
	}
	return -1
}

func (s *PackedSource) ModuleByID(id int64) *model.Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moduleByID[id]
}

func (s *PackedSource) FileID(f *model.File) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, file := range s.fileByID {
		if file == f {
			return id
		}
	}
	return -1
}

func (s *PackedSource) FileByID(id int64) *model.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileByID[id]
}
