package collective

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"
)

// SharedAccumulator is a cross-rank fetch-add counter, used to hand out
// globally unique id-block bases across ranks. FetchAdd returns the value
// the counter held immediately before adding delta.
type SharedAccumulator interface {
	FetchAdd(ctx context.Context, delta uint64) (uint64, error)
	Stop()
}

// localAccumulator is the rank==0-or-size==1 degenerate case: a plain local
// atomic.
type localAccumulator struct {
	v atomic.Uint64
}

func (a *localAccumulator) FetchAdd(ctx context.Context, delta uint64) (uint64, error) {
	return a.v.Add(delta) - delta, nil
}

func (a *localAccumulator) Stop() {}

// fetchAddRequestSize is the wire size of a client->server fetch-add
// request: just the delta, big-endian.
const fetchAddRequestSize = 8

// accumulatorServerRank is the rank that owns the authoritative counter;
// every other rank is a client forwarding FetchAdd calls to it.
const accumulatorServerRank = 0

// AccumulatorServer is the multi-rank SharedAccumulator: rank 0 owns the
// counter and runs a gocron-scheduled background task polling every peer
// for a pending fetch-add request; every other rank's FetchAdd blocks on a
// direct request/reply round trip to rank 0.
type AccumulatorServer struct {
	t    Transport
	self *localAccumulator // only populated on rank 0

	sched gocron.Scheduler
}

// NewAccumulatorServer builds the SharedAccumulator for t. On a single-rank
// run it returns the plain local accumulator with no background work
// started. pollInterval governs how often rank 0's background task checks
// peers for a pending request.
func NewAccumulatorServer(t Transport, pollInterval time.Duration) (SharedAccumulator, error) {
	if t.Rank() == accumulatorServerRank || t.Size() == 1 {
		srv := &AccumulatorServer{t: t, self: &localAccumulator{}}
		if t.Size() == 1 {
			return srv.self, nil
		}
		if pollInterval <= 0 {
			pollInterval = 5 * time.Millisecond
		}
		s, err := gocron.NewScheduler()
		if err != nil {
			return nil, err
		}
		srv.sched = s
		_, err = s.NewJob(
			gocron.DurationJob(pollInterval),
			gocron.NewTask(srv.pollOnce),
		)
		if err != nil {
			return nil, err
		}
		s.Start()
		return srv, nil
	}
	return &accumulatorClient{t: t}, nil
}

// pollOnce checks every peer rank for a pending fetch-add request, non-
// blockingly (each Receive is bounded by a short deadline), services it,
// and replies with the pre-increment value.
func (s *AccumulatorServer) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Millisecond)
	defer cancel()
	for r := 0; r < s.t.Size(); r++ {
		if r == s.t.Rank() {
			continue
		}
		req, err := s.t.Receive(ctx, r)
		if err != nil || len(req) < fetchAddRequestSize {
			continue
		}
		delta := binary.BigEndian.Uint64(req[:fetchAddRequestSize])
		prev := s.self.v.Add(delta) - delta
		var reply [8]byte
		binary.BigEndian.PutUint64(reply[:], prev)
		if err := s.t.Send(ctx, r, reply[:]); err != nil {
			cclog.Warnf("[COLLECTIVE]> accumulator reply to rank %d failed: %v", r, err)
		}
	}
}

func (s *AccumulatorServer) FetchAdd(ctx context.Context, delta uint64) (uint64, error) {
	return s.self.FetchAdd(ctx, delta)
}

func (s *AccumulatorServer) Stop() {
	if s.sched != nil {
		_ = s.sched.Shutdown()
	}
}

// accumulatorClient is the non-owning-rank side: every FetchAdd is a
// request/reply round trip to accumulatorServerRank.
type accumulatorClient struct {
	t Transport
}

func (c *accumulatorClient) FetchAdd(ctx context.Context, delta uint64) (uint64, error) {
	var req [8]byte
	binary.BigEndian.PutUint64(req[:], delta)
	if err := c.t.Send(ctx, accumulatorServerRank, req[:]); err != nil {
		return 0, err
	}
	reply, err := c.t.Receive(ctx, accumulatorServerRank)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(reply[:8]), nil
}

func (c *accumulatorClient) Stop() {}
