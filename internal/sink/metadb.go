package sink

import (
	"fmt"
	"sync"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
	"github.com/hpcpipeline/profcore/internal/pipeline"
	"github.com/hpcpipeline/profcore/pkg/archive/parquet"
)

// MetaDB is the Sink that emits the structural metadata database: modules,
// files, the flattened calling-context tree, metrics, extra statistics, and
// threads, one parquet row group per table under a shared directory prefix.
// It pulls everything it needs from the Registry's snapshots at Write time
// rather than tracking state incrementally through the Notify* callbacks,
// except for Threads, which are never interned anywhere else and so are
// collected as NotifyThread fires.
type MetaDB struct {
	pipeline.BaseSink

	p      *pipeline.ProfilePipeline
	target parquet.ParquetTarget
	prefix string

	mu      sync.Mutex
	threads []*model.Thread
}

func NewMetaDB(target parquet.ParquetTarget, prefix string) *MetaDB {
	return &MetaDB{target: target, prefix: prefix}
}

func (*MetaDB) Accepts() dataclass.Class {
	return dataclass.Attributes | dataclass.References | dataclass.Contexts |
		dataclass.Metrics | dataclass.Threads
}

func (*MetaDB) Requirements() dataclass.Extension {
	return dataclass.Identifier | dataclass.ResolvedPath | dataclass.Classification
}

func (m *MetaDB) NotifyPipeline(p *pipeline.ProfilePipeline) { m.p = p }

func (m *MetaDB) NotifyThread(t *model.Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = append(m.threads, t)
}

func (m *MetaDB) Write() error {
	if err := m.writeModules(); err != nil {
		return err
	}
	if err := m.writeFiles(); err != nil {
		return err
	}
	if err := m.writeMetrics(); err != nil {
		return err
	}
	if err := m.writeExtraStatistics(); err != nil {
		return err
	}
	if err := m.writeContexts(); err != nil {
		return err
	}
	return m.writeThreads()
}

func (*MetaDB) Help() (contributed bool, completed bool) { return false, true }

func (m *MetaDB) writeModules() error {
	w := NewRowWriter(m.target, m.prefix, "modules", 64, func(r *ModuleRow) int64 {
		return int64(len(r.Path) + len(r.ResolvedPath) + 16)
	})
	for _, mod := range m.p.Registry().Modules() {
		id, _ := m.p.IdentifyModule(mod)
		row := ModuleRow{ID: int64(id), Path: mod.Path()}
		row.ResolvedPath = m.p.ResolveModulePath(mod)
		if err := w.Add(row); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (m *MetaDB) writeFiles() error {
	w := NewRowWriter(m.target, m.prefix, "files", 64, func(r *FileRow) int64 {
		return int64(len(r.Path) + len(r.ResolvedPath) + 16)
	})
	for _, f := range m.p.Registry().Files() {
		id, _ := m.p.IdentifyFile(f)
		row := FileRow{ID: int64(id), Path: f.Path()}
		row.ResolvedPath = m.p.ResolveFilePath(f)
		if err := w.Add(row); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (m *MetaDB) writeMetrics() error {
	w := NewRowWriter(m.target, m.prefix, "metrics", 64, func(r *MetricRow) int64 {
		return int64(len(r.Name) + len(r.Description) + 24)
	})
	for _, metric := range m.p.Registry().MetricsList() {
		base, _, _ := m.p.IdentifyMetric(metric)
		w.Add(MetricRow{
			ID:          int64(base),
			Name:        metric.Settings.Name,
			Description: metric.Settings.Description,
			Visibility:  uint8(metric.Settings.Visibility),
			Scopes:      uint8(metric.Settings.Scopes),
			Partials:    int32(len(metric.Partials)),
		})
	}
	return w.Flush()
}

func (m *MetaDB) writeExtraStatistics() error {
	names := metricNameIndex(m.p.Registry().MetricsList())
	w := NewRowWriter(m.target, m.prefix, "extra_statistics", 16, func(r *ExtraStatRow) int64 {
		return int64(len(r.Name) + len(r.Description) + len(r.Formula) + 16)
	})
	for _, es := range m.p.Registry().ExtraStatistics() {
		w.Add(ExtraStatRow{
			Name:        es.Settings.Name,
			Description: es.Settings.Description,
			Scopes:      uint8(es.Settings.Scopes),
			Formula:     es.Formula.Render(func(uv int) string { return names[uv] }),
		})
	}
	return w.Flush()
}

// metricNameIndex inverts the declaration-order index used as a metric
// Expression's Uservalue back to the metric's name, for formula rendering.
func metricNameIndex(metrics []*model.Metric) map[int]string {
	out := make(map[int]string, len(metrics))
	for i, metric := range metrics {
		out[i] = metric.Settings.Name
	}
	return out
}

func (m *MetaDB) writeContexts() error {
	w := NewRowWriter(m.target, m.prefix, "contexts", 128, func(r *ContextRow) int64 {
		return int64(len(r.FunctionName) + 48)
	})
	for _, ctx := range m.p.Registry().Arena().Snapshot() {
		id, _ := m.p.IdentifyContext(ctx)
		row := ContextRow{
			ID:       int64(id),
			Relation: uint8(ctx.Edge().Relation),
		}
		if parent := ctx.Parent(); parent != nil {
			pid, _ := m.p.IdentifyContext(parent)
			row.ParentID = int64(pid)
		} else {
			row.ParentID = -1
		}
		fillScopeRow(&row, ctx.Edge().Scope, m.p)
		if err := w.Add(row); err != nil {
			return err
		}
	}
	return w.Flush()
}

func fillScopeRow(row *ContextRow, sc model.Scope, p *pipeline.ProfilePipeline) {
	row.ScopeKind = uint8(sc.Kind)
	switch sc.Kind {
	case model.ScopePoint:
		id, _ := p.IdentifyModule(sc.Module)
		row.ModuleID = int64(id)
		row.Offset = sc.Offset
	case model.ScopeFunction:
		row.FunctionName = sc.Function.Name
		if sc.Function.Module != nil {
			id, _ := p.IdentifyModule(sc.Function.Module)
			row.ModuleID = int64(id)
		}
		if sc.Function.File != nil {
			id, _ := p.IdentifyFile(sc.Function.File)
			row.FileID = int64(id)
			row.Line = sc.Function.Line
		}
	case model.ScopeLexicalLoop, model.ScopeLine:
		id, _ := p.IdentifyFile(sc.File)
		row.FileID = int64(id)
		row.Line = sc.Line
	case model.ScopeBinaryLoop:
		id, _ := p.IdentifyModule(sc.Module)
		row.ModuleID = int64(id)
		row.Offset = sc.Offset
		fid, _ := p.IdentifyFile(sc.File)
		row.FileID = int64(fid)
		row.Line = sc.Line
	case model.ScopePlaceholder:
		row.Offset = sc.Offset
	}
}

func (m *MetaDB) writeThreads() error {
	m.mu.Lock()
	threads := make([]*model.Thread, len(m.threads))
	copy(threads, m.threads)
	m.mu.Unlock()

	w := NewRowWriter(m.target, m.prefix, "threads", 32, func(r *ThreadRow) int64 {
		return int64(len(r.Identity) + 16)
	})
	for _, t := range threads {
		id, ok := m.p.IdentifyThread(t)
		if !ok {
			return fmt.Errorf("metadb: thread %s never assigned a dense id", t.Attrs.Identity.Key())
		}
		if err := w.Add(ThreadRow{ID: int64(id), Identity: t.Attrs.Identity.Key()}); err != nil {
			return err
		}
	}
	return w.Flush()
}
