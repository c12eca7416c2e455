package sink

import (
	"sync"

	pq "github.com/parquet-go/parquet-go"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
	"github.com/hpcpipeline/profcore/internal/pipeline"
	"github.com/hpcpipeline/profcore/pkg/archive/parquet"
)

// SparseDB is the Sink that emits the sparse value database: one row per
// (context, thread, metric, partial) cell that a thread actually
// accumulated into, drained from each thread's PerThreadTemporary as it
// finalizes rather than re-walking the shared Context accumulators (which
// by NotifyThreadFinal time have already absorbed this thread's values and
// so can no longer tell which cells were this thread's contribution).
type SparseDB struct {
	pipeline.BaseSink

	p      *pipeline.ProfilePipeline
	w      *RowWriter[SparseValueRow]
	mu     sync.Mutex
	closed bool
}

func NewSparseDB(target parquet.ParquetTarget, prefix string) *SparseDB {
	w := NewRowWriter(target, prefix, "sparse", 256, func(r *SparseValueRow) int64 {
		return 40
	}, pq.Ascending("context_id"), pq.Ascending("metric_id"))
	return &SparseDB{w: w}
}

func (*SparseDB) Accepts() dataclass.Class {
	return dataclass.Threads | dataclass.Contexts | dataclass.Metrics
}

func (*SparseDB) Requirements() dataclass.Extension {
	return dataclass.Identifier
}

func (s *SparseDB) NotifyPipeline(p *pipeline.ProfilePipeline) { s.p = p }

func (s *SparseDB) NotifyThreadFinal(temp *model.PerThreadTemporary) {
	threadID, ok := s.p.IdentifyThread(temp.Thread)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	temp.DrainContexts(func(ctx *model.Context, m *model.Metric, partial int, value float64, set bool) {
		if !set {
			return
		}
		ctxID, _ := s.p.IdentifyContext(ctx)
		base, _, _ := s.p.IdentifyMetric(m)
		s.w.Add(SparseValueRow{
			ContextID: int64(ctxID),
			ThreadID:  int64(threadID),
			MetricID:  int64(base),
			Partial:   int32(partial),
			Value:     value,
		})
	})
}

func (s *SparseDB) Write() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Flush()
}

func (*SparseDB) Help() (contributed bool, completed bool) { return false, true }
