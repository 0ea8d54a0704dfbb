package replication

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/rs/zerolog"

	"github.com/ssenthilnathan3/dist-space/pkg/events"
	"github.com/ssenthilnathan3/dist-space/pkg/log"
	"github.com/ssenthilnathan3/dist-space/pkg/metrics"
	"github.com/ssenthilnathan3/dist-space/pkg/serializer"
	"github.com/ssenthilnathan3/dist-space/pkg/types"
	"github.com/ssenthilnathan3/dist-space/pkg/wire"
)

// Transport delivers replication messages to a peer. The TCP
// implementation lives in the server package; tests use an in-memory one.
type Transport interface {
	Send(peerID string, msg any) error
}

// Config holds replicator tuning
type Config struct {
	Peers             []string
	HeartbeatInterval time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	MaxRetries        int
	Workers           int
}

// DefaultConfig returns replication defaults
func DefaultConfig(peers []string) Config {
	return Config{
		Peers:             peers,
		HeartbeatInterval: 5 * time.Second,
		BackoffBase:       200 * time.Millisecond,
		BackoffCap:        10 * time.Second,
		MaxRetries:        6,
		Workers:           8,
	}
}

// Replicator exchanges committed operations with peer nodes. Outbound: it
// subscribes to the committed-op stream and forwards every locally
// originated commit. Inbound: ops are integrated in origin order through
// the serializer as upstream-tagged submissions; gaps are buffered and
// repaired by anti-entropy with exponential backoff.
//
// Peer I/O runs on a bounded worker pool so a slow peer cannot stall the
// commit path.
type Replicator struct {
	nodeID    string
	ser       *serializer.Serializer
	broker    *events.Broker
	transport Transport
	cfg       Config
	logger    zerolog.Logger
	pool      *pond.WorkerPool

	mu      sync.Mutex
	vector  types.CausalVector
	pending map[string]map[uint64]wire.OpCommit
	journal map[string]map[uint64]wire.OpCommit
	repairs map[string]bool

	// inMu serializes inbound integration so concurrent deliveries of the
	// same origin stream can neither reorder nor double-apply.
	inMu sync.Mutex

	stopCh chan struct{}
	done   sync.WaitGroup
}

// New creates a replicator
func New(nodeID string, ser *serializer.Serializer, broker *events.Broker, transport Transport, cfg Config) *Replicator {
	return &Replicator{
		nodeID:    nodeID,
		ser:       ser,
		broker:    broker,
		transport: transport,
		cfg:       cfg,
		logger:    log.WithComponent("replication"),
		pool:      pond.New(cfg.Workers, 1024),
		vector:    make(types.CausalVector),
		pending:   make(map[string]map[uint64]wire.OpCommit),
		journal:   make(map[string]map[uint64]wire.OpCommit),
		repairs:   make(map[string]bool),
		stopCh:    make(chan struct{}),
	}
}

// Start begins forwarding commits and heartbeating peers
func (r *Replicator) Start() {
	sub := r.broker.Subscribe(4096)

	r.done.Add(2)
	go r.forwardLoop(sub)
	go r.heartbeatLoop()
}

// Stop shuts the replicator down
func (r *Replicator) Stop() {
	close(r.stopCh)
	r.done.Wait()
	r.pool.StopAndWait()
}

// Vector returns a copy of the node's causal vector
func (r *Replicator) Vector() types.CausalVector {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vector.Clone()
}

func (r *Replicator) forwardLoop(sub events.Subscriber) {
	defer r.done.Done()
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			r.forward(ev)
		case <-r.stopCh:
			r.broker.Unsubscribe(sub)
			return
		}
	}
}

// forward records a commit in the journal and fans it out to peers.
// Upstream commits are journaled for anti-entropy but never re-replicated,
// which breaks the ping-pong cycle.
func (r *Replicator) forward(ev *events.Event) {
	var rec wire.OpCommit
	switch ev.Type {
	case events.EventOpCommitted:
		rec = wire.OpCommit{Path: ev.Path, OriginNode: ev.Op.OriginNode, OriginSeq: ev.Op.OriginSeq, Op: ev.Op, Vector: ev.Vector}
	case events.EventFileCreated, events.EventFileDeleted, events.EventFileMoved:
		if ev.FSOp == nil {
			return
		}
		rec = wire.OpCommit{Path: ev.Path, OriginNode: ev.FSOp.OriginNode, OriginSeq: ev.FSOp.OriginSeq, FSOp: ev.FSOp}
	default:
		return
	}

	if ev.Upstream {
		// Already journaled pre-rebase on receipt; re-forwarding would
		// ping-pong between peers.
		return
	}

	r.mu.Lock()
	if r.journal[rec.OriginNode] == nil {
		r.journal[rec.OriginNode] = make(map[uint64]wire.OpCommit)
	}
	r.journal[rec.OriginNode][rec.OriginSeq] = rec
	if rec.OriginSeq > r.vector[rec.OriginNode] {
		r.vector[rec.OriginNode] = rec.OriginSeq
	}
	r.mu.Unlock()

	for _, peer := range r.cfg.Peers {
		peer := peer
		r.pool.Submit(func() {
			if err := r.transport.Send(peer, &rec); err != nil {
				r.logger.Warn().Err(err).Str("peer", peer).Msg("Op forward failed; peer will recover via anti-entropy")
				return
			}
			metrics.ReplicationOpsSentTotal.Inc()
		})
	}
}

// HandleMessage dispatches one inbound replication message from a peer
func (r *Replicator) HandleMessage(peerID string, msg any) {
	switch m := msg.(type) {
	case *wire.OpCommit:
		r.handleOpCommit(peerID, *m)
	case *wire.PeerHeartbeat:
		r.handlePeerHeartbeat(m)
	case *wire.AntiEntropyRequest:
		r.handleAntiEntropyRequest(m)
	case *wire.AntiEntropyResponse:
		r.handleAntiEntropyResponse(peerID, m)
	default:
		r.logger.Warn().Str("peer", peerID).Msgf("Unknown replication message %T", msg)
	}
}

func (r *Replicator) handleOpCommit(peerID string, rec wire.OpCommit) {
	if rec.OriginNode == r.nodeID {
		// Own op echoed back; it is already in the log
		return
	}
	metrics.ReplicationOpsReceivedTotal.Inc()

	r.inMu.Lock()
	defer r.inMu.Unlock()

	r.mu.Lock()
	last := r.vector[rec.OriginNode]
	if rec.OriginSeq <= last {
		// Duplicate delivery; anti-entropy and direct forwarding overlap
		r.mu.Unlock()
		return
	}
	if rec.OriginSeq != last+1 {
		// Out of origin order: buffer and repair the gap
		if r.pending[rec.OriginNode] == nil {
			r.pending[rec.OriginNode] = make(map[uint64]wire.OpCommit)
		}
		r.pending[rec.OriginNode][rec.OriginSeq] = rec
		r.mu.Unlock()

		metrics.ReplicationGapsTotal.Inc()
		r.requestRepair(peerID)
		return
	}
	r.mu.Unlock()

	r.integrate(rec)
	r.drainPending(rec.OriginNode)
}

// integrate feeds an in-order op into the local serializer. The submission
// is upstream-tagged: it rebases against local concurrent commits but does
// not re-replicate.
func (r *Replicator) integrate(rec wire.OpCommit) {
	var err error
	if rec.FSOp != nil {
		err = r.ser.SubmitFSOp(*rec.FSOp, true)
	} else {
		_, err = r.ser.SubmitUpstream(rec.Path, rec.Op, rec.Vector)
	}
	if err != nil && !errors.Is(err, types.ErrFileNotFound) && !errors.Is(err, types.ErrFileExists) {
		// Path errors are expected when a structural op raced a delete;
		// the edit collapses exactly as the strict policy prescribes.
		r.logger.Error().Err(err).
			Str("origin", rec.OriginNode).
			Uint64("origin_seq", rec.OriginSeq).
			Msg("Upstream integration failed")
	}

	r.mu.Lock()
	if rec.OriginSeq > r.vector[rec.OriginNode] {
		r.vector[rec.OriginNode] = rec.OriginSeq
	}
	if r.journal[rec.OriginNode] == nil {
		r.journal[rec.OriginNode] = make(map[uint64]wire.OpCommit)
	}
	r.journal[rec.OriginNode][rec.OriginSeq] = rec
	r.mu.Unlock()
}

func (r *Replicator) drainPending(origin string) {
	for {
		r.mu.Lock()
		floor := r.vector[origin]
		for seq := range r.pending[origin] {
			if seq <= floor {
				// Superseded by anti-entropy delivery
				delete(r.pending[origin], seq)
			}
		}
		rec, ok := r.pending[origin][floor+1]
		if ok {
			delete(r.pending[origin], floor+1)
		}
		r.mu.Unlock()
		if !ok {
			return
		}
		r.integrate(rec)
	}
}

func (r *Replicator) handlePeerHeartbeat(hb *wire.PeerHeartbeat) {
	r.mu.Lock()
	behind := !r.vector.Dominates(hb.Vector)
	r.mu.Unlock()
	if behind {
		r.requestRepair(hb.NodeID)
	}
}

// handleAntiEntropyRequest answers with every journaled op the requester
// lacks, ordered by (origin_node, origin_seq).
func (r *Replicator) handleAntiEntropyRequest(req *wire.AntiEntropyRequest) {
	r.mu.Lock()
	var ops []wire.OpCommit
	for origin, byseq := range r.journal {
		floor := req.From[origin]
		for seq, rec := range byseq {
			if seq > floor {
				ops = append(ops, rec)
			}
		}
	}
	r.mu.Unlock()

	sort.Slice(ops, func(i, j int) bool {
		if ops[i].OriginNode != ops[j].OriginNode {
			return ops[i].OriginNode < ops[j].OriginNode
		}
		return ops[i].OriginSeq < ops[j].OriginSeq
	})

	resp := &wire.AntiEntropyResponse{Ops: ops}
	peer := req.NodeID
	r.pool.Submit(func() {
		if err := r.transport.Send(peer, resp); err != nil {
			r.logger.Warn().Err(err).Str("peer", peer).Msg("Anti-entropy response failed")
		}
	})
}

func (r *Replicator) handleAntiEntropyResponse(peerID string, resp *wire.AntiEntropyResponse) {
	r.inMu.Lock()
	defer r.inMu.Unlock()

	for _, rec := range resp.Ops {
		if rec.OriginNode == r.nodeID {
			continue
		}
		r.mu.Lock()
		last := r.vector[rec.OriginNode]
		r.mu.Unlock()
		if rec.OriginSeq <= last {
			continue
		}
		if rec.OriginSeq != last+1 {
			// Response itself has a gap for this origin; keep it buffered
			r.mu.Lock()
			if r.pending[rec.OriginNode] == nil {
				r.pending[rec.OriginNode] = make(map[uint64]wire.OpCommit)
			}
			r.pending[rec.OriginNode][rec.OriginSeq] = rec
			r.mu.Unlock()
			continue
		}
		r.integrate(rec)
		r.drainPending(rec.OriginNode)
	}

	r.mu.Lock()
	delete(r.repairs, peerID)
	r.mu.Unlock()
}

// requestRepair issues an anti-entropy request to one peer. A failed send is
// retried with exponential backoff until a send succeeds or the retry cap is
// hit; a request that was sent is not re-sent, and the repair slot frees when
// the response arrives or after BackoffCap. One repair runs per peer at a
// time.
func (r *Replicator) requestRepair(peerID string) {
	r.mu.Lock()
	if r.repairs[peerID] {
		r.mu.Unlock()
		return
	}
	r.repairs[peerID] = true
	r.mu.Unlock()

	r.pool.Submit(func() {
		backoff := r.cfg.BackoffBase
		for attempt := 0; attempt < r.cfg.MaxRetries; attempt++ {
			r.mu.Lock()
			active := r.repairs[peerID]
			from := r.vector.Clone()
			r.mu.Unlock()
			if !active {
				return
			}

			metrics.AntiEntropyRoundsTotal.Inc()
			err := r.transport.Send(peerID, &wire.AntiEntropyRequest{NodeID: r.nodeID, From: from})
			if err == nil {
				// The in-flight flag clears when the response arrives; if it
				// never does, time it out so future gaps can repair again.
				go func() {
					select {
					case <-time.After(r.cfg.BackoffCap):
						r.mu.Lock()
						delete(r.repairs, peerID)
						r.mu.Unlock()
					case <-r.stopCh:
					}
				}()
				return
			}
			r.logger.Warn().Err(err).Str("peer", peerID).Dur("backoff", backoff).Msg("Anti-entropy request failed")

			select {
			case <-time.After(backoff):
			case <-r.stopCh:
				return
			}
			backoff *= 2
			if backoff > r.cfg.BackoffCap {
				backoff = r.cfg.BackoffCap
			}
		}

		// Out of retries: surface through metrics for paging
		metrics.AntiEntropyRetriesExhaustedTotal.Inc()
		r.logger.Error().Str("peer", peerID).Msg("Anti-entropy retries exhausted")
		r.mu.Lock()
		delete(r.repairs, peerID)
		r.mu.Unlock()
	})
}

func (r *Replicator) heartbeatLoop() {
	defer r.done.Done()
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hb := &wire.PeerHeartbeat{NodeID: r.nodeID, Vector: r.Vector()}
			for _, peer := range r.cfg.Peers {
				peer := peer
				r.pool.Submit(func() {
					if err := r.transport.Send(peer, hb); err != nil {
						r.logger.Debug().Err(err).Str("peer", peer).Msg("Peer heartbeat failed")
					}
				})
			}
		case <-r.stopCh:
			return
		}
	}
}
