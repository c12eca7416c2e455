package source

import (
	"fmt"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/hpcpipeline/profcore/internal/dataclass"
	"github.com/hpcpipeline/profcore/internal/model"
	"github.com/hpcpipeline/profcore/internal/pipeline"
	natsclient "github.com/hpcpipeline/profcore/pkg/nats"
)

// NatsSource subscribes to a NATS subject carrying line-protocol-encoded
// sample batches and replays them into the pipeline as they arrive. Each
// batch is decoded with DecodeBatch; every Sample's call stack is walked
// from the root down, the leaf Context receives one accumulation per metric
// field.
type NatsSource struct {
	Base

	client  *natsclient.Client
	subject string
	queue   string // empty: no queue group

	// readMu serializes every call into the Handle: NATS dispatches a
	// subscription's handler from its own goroutine pool, but a Handle is
	// built for one Source driving it single-threaded (see threadTemp's
	// unsynchronized map access), so every message is replayed under this
	// lock rather than concurrently.
	readMu  sync.Mutex
	threads map[string]*model.Thread // Identity.Key() -> Thread
	metrics map[string]*model.Metric // metric name -> Metric

	errs  []error
	errMu sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
}

// NewNatsSource builds a Source that subscribes to subject on client once
// Read is called. queue, if non-empty, makes the subscription a queue-group
// member sharing delivery with other subscribers of the same queue.
func NewNatsSource(client *natsclient.Client, subject, queue string) *NatsSource {
	return &NatsSource{
		client:  client,
		subject: subject,
		queue:   queue,
		threads: make(map[string]*model.Thread),
		metrics: make(map[string]*model.Metric),
		stop:    make(chan struct{}),
	}
}

// Stop ends a running Read, letting the Source's contribution finalize
// normally. Safe to call more than once or before Read starts.
func (s *NatsSource) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Provides reports the classes a live sample feed can ever produce.
func (s *NatsSource) Provides() dataclass.Class {
	return dataclass.Attributes | dataclass.Threads | dataclass.References |
		dataclass.Metrics | dataclass.Contexts
}

// Read subscribes to the configured subject and blocks, replaying decoded
// batches into h, until Stop is called.
func (s *NatsSource) Read(h *pipeline.Handle, mask dataclass.Class) error {
	handler := func(_ string, data []byte) {
		batch, err := DecodeBatch(data)
		if err != nil {
			s.recordErr(fmt.Errorf("natsource: %w", err))
			return
		}
		s.readMu.Lock()
		defer s.readMu.Unlock()
		for _, sample := range batch {
			s.replay(h, mask, sample)
		}
	}

	var err error
	if s.queue != "" {
		err = s.client.SubscribeQueue(s.subject, s.queue, handler)
	} else {
		err = s.client.Subscribe(s.subject, handler)
	}
	if err != nil {
		return fmt.Errorf("natsource: subscribe: %w", err)
	}

	<-s.stop // runs until Stop is called
	return s.firstErr()
}

func (s *NatsSource) recordErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.errs = append(s.errs, err)
	cclog.Warnf("[NATSOURCE]> %v", err)
}

func (s *NatsSource) firstErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if len(s.errs) == 0 {
		return nil
	}
	return s.errs[0]
}

func (s *NatsSource) replay(h *pipeline.Handle, mask dataclass.Class, sample Sample) {
	thread := s.threadFor(h, sample.Identity)

	if !mask.AnyOf(dataclass.Contexts | dataclass.Metrics) {
		return
	}

	ctx := h.Root()
	var relCtx *model.Context
	for _, frame := range sample.Stack {
		m := s.ModuleFor(h, frame.Module)
		relCtx, ctx = h.Context(ctx, model.NS(model.RelCall, model.PointScope(m, frame.Offset)))
	}

	if !mask.Has(dataclass.Metrics) {
		return
	}
	for name, value := range sample.Metrics {
		metric := s.metricFor(h, name)
		h.AccumulateTo(thread, relCtx, ctx, metric, 0, value)
	}
}

// threadFor and metricFor assume the caller already holds readMu.
func (s *NatsSource) threadFor(h *pipeline.Handle, identity model.Identity) *model.Thread {
	key := identity.Key()
	if t, ok := s.threads[key]; ok {
		return t
	}
	t, _ := h.NewThread(model.ThreadAttributes{Identity: identity})
	s.threads[key] = t
	return t
}

func (s *NatsSource) metricFor(h *pipeline.Handle, name string) *model.Metric {
	if m, ok := s.metrics[name]; ok {
		return m
	}
	m := h.Metric(model.MetricSettings{
		Name:   name,
		Scopes: model.MetricScopeSet(model.ScopePointMetric | model.ScopeExecutionMetric),
	})
	m.AddPartial(model.Partial{Combinator: model.CombSum, Accumulate: model.Var(0)})
	h.FreezeMetric(m)
	s.metrics[name] = m
	return m
}
