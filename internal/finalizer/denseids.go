// Package finalizer collects the concrete Finalizer implementations:
// dense identifier assignment, direct/binary classification, structfile-
// based call-graph reconstruction, kernel symbol resolution, and the
// distributed-mode id unpacker.
package finalizer

import (
	"sync/atomic"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
	"github.com/hpcpipeline/profcore/internal/pipeline"
)

// DenseIds assigns stable dense identifiers to every uniqued entity kind:
// Modules, Files, Threads and Metric id-blocks each get a monotonically
// increasing counter starting at 0; Contexts start at 1, with 0 reserved
// for the global root (the one Context with no parent).
type DenseIds struct {
	pipeline.BaseFinalizer

	moduleID atomic.Uint32
	fileID   atomic.Uint32
	metricID atomic.Uint32
	ctxID    atomic.Uint32
	threadID atomic.Uint32
}

// NewDenseIds constructs a DenseIds finalizer with ctx ids starting at 1
// (0 reserved for the global root) and every other counter starting at 0.
func NewDenseIds() *DenseIds {
	d := &DenseIds{}
	d.ctxID.Store(1)
	return d
}

func (d *DenseIds) Provides() dataclass.Extension { return dataclass.Identifier }

func (d *DenseIds) IdentifyModule(*model.Module) (int, bool) {
	return int(d.moduleID.Add(1) - 1), true
}

func (d *DenseIds) IdentifyFile(*model.File) (int, bool) {
	return int(d.fileID.Add(1) - 1), true
}

func (d *DenseIds) IdentifyThread(*model.Thread) (int, bool) {
	return int(d.threadID.Add(1) - 1), true
}

// IdentifyMetric allocates a block of max(len(Partials),1)*Scopes.Count()
// consecutive ids and returns the block's base.
func (d *DenseIds) IdentifyMetric(m *model.Metric) (int, bool) {
	inc := uint32(m.IDBlockSize())
	if inc == 0 {
		inc = 1
	}
	base := d.metricID.Add(inc) - inc
	return int(base), true
}

// IdentifyContext returns 0 for the global root (no parent) and an
// otherwise monotonically increasing id starting at 1 for every other
// Context.
func (d *DenseIds) IdentifyContext(c *model.Context) (int, bool) {
	if c.Parent() == nil {
		return 0, true
	}
	return int(d.ctxID.Add(1) - 1), true
}
