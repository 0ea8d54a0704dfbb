package serializer

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ssenthilnathan3/dist-space/pkg/events"
	"github.com/ssenthilnathan3/dist-space/pkg/log"
	"github.com/ssenthilnathan3/dist-space/pkg/metrics"
	"github.com/ssenthilnathan3/dist-space/pkg/ot"
	"github.com/ssenthilnathan3/dist-space/pkg/snapshot"
	"github.com/ssenthilnathan3/dist-space/pkg/types"
	"github.com/ssenthilnathan3/dist-space/pkg/workspace"
)

// storageFailureLimit is the number of consecutive persist failures after
// which the node flips to read-only mode.
const storageFailureLimit = 3

// Serializer is the single mutation point for documents. Every proposal,
// whether from a local session or from a replication peer, passes through
// it: the
// proposal is rebased against concurrent committed operations, assigned
// the canonical sequence number, persisted, applied, and published on the
// committed-op stream.
//
// Exactly one submission executes at a time per document (the entry lock);
// submissions against different documents do not contend. File-system
// operations serialize against the workspace instead.
type Serializer struct {
	nodeID string
	ws     *workspace.Workspace
	broker *events.Broker
	snaps  *snapshot.Manager
	logger zerolog.Logger

	originSeq       atomic.Uint64
	readOnly        atomic.Bool
	storageFailures atomic.Uint32
}

// New creates a serializer for one node
func New(nodeID string, ws *workspace.Workspace, broker *events.Broker, snaps *snapshot.Manager) *Serializer {
	return &Serializer{
		nodeID: nodeID,
		ws:     ws,
		broker: broker,
		snaps:  snaps,
		logger: log.WithComponent("serializer"),
	}
}

// NextOriginSeq stamps a locally-authored operation with the node's
// monotonic origin sequence.
func (s *Serializer) NextOriginSeq() uint64 {
	return s.originSeq.Add(1)
}

// ReadOnly reports whether the node stopped accepting mutations after
// persistent storage failures.
func (s *Serializer) ReadOnly() bool {
	return s.readOnly.Load()
}

// Submit runs the commit protocol for a local proposal. The operation's
// BaseVersion is the client's last acknowledged document version; every
// committed op past it is concurrent and transformed in.
func (s *Serializer) Submit(path string, op types.Operation) (types.CommittedOp, error) {
	return s.commit(path, op)
}

// SubmitUpstream integrates a committed operation replicated from another
// node. seen is the origin's per-document causal vector at commit time: a
// local commit is concurrent with the incoming op exactly when its
// (origin, origin_seq) identity is not covered by seen. Upstream commits
// are not re-replicated.
//
// Concurrency bridging follows the Jupiter shape: per origin the entry
// keeps the list of committed ops that origin has not seen, co-transformed
// so the next op from that origin folds against frame-consistent
// counterparts. Ops from one origin must arrive in origin order; the
// replication layer's gap buffer guarantees that.
func (s *Serializer) SubmitUpstream(path string, op types.Operation, seen types.CausalVector) (types.CommittedOp, error) {
	if s.readOnly.Load() {
		return types.CommittedOp{}, fmt.Errorf("submit %s: %w", path, types.ErrReadOnly)
	}

	entry, err := s.ws.Resolve(path)
	if err != nil {
		return types.CommittedOp{}, err
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	origin := op.OriginNode
	bridge, ok := entry.Bridges[origin]
	if !ok {
		// First contact with this origin on this document: every committed
		// op is a candidate; the covered prefix is pruned below.
		if entry.Doc.Version > 0 {
			window, err := entry.Log.Range(1, entry.Doc.Version)
			if err != nil {
				return types.CommittedOp{}, err
			}
			bridge = make([]types.Operation, len(window))
			for i, c := range window {
				bridge[i] = c.Op
			}
		}
		if entry.Bridges == nil {
			entry.Bridges = make(map[string][]types.Operation)
		}
	}

	// Drop the prefix the origin has already integrated
	for len(bridge) > 0 && covered(bridge[0], seen) {
		bridge = bridge[1:]
	}

	// Fold the incoming op through the concurrent ops, co-transforming the
	// bridge so it stays in the frame of the origin's next op.
	for i, b := range bridge {
		op, bridge[i] = ot.Transform(op, b)
		metrics.RebasesTotal.Inc()
	}
	entry.Bridges[origin] = bridge

	op = ot.Normalize(op)
	if op.IsNoOp() {
		return types.CommittedOp{Seq: entry.Doc.Version, Op: op}, nil
	}

	return s.finishCommit(entry, path, op, true)
}

func (s *Serializer) commit(path string, op types.Operation) (types.CommittedOp, error) {
	if s.readOnly.Load() {
		return types.CommittedOp{}, fmt.Errorf("submit %s: %w", path, types.ErrReadOnly)
	}

	entry, err := s.ws.Resolve(path)
	if err != nil {
		return types.CommittedOp{}, err
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	version := entry.Doc.Version
	base := op.BaseVersion
	if base > version {
		return types.CommittedOp{}, fmt.Errorf("%w: base version %d ahead of document version %d", types.ErrBadPrecondition, base, version)
	}

	// Rebase against every committed op past the client's base version
	if base < version {
		window, err := entry.Log.Range(base+1, version)
		if err != nil {
			return types.CommittedOp{}, err
		}
		for _, c := range window {
			op, _ = ot.Transform(op, c.Op)
			metrics.RebasesTotal.Inc()
		}
	}
	op = ot.Normalize(op)

	if op.IsNoOp() {
		// Fully consumed: acknowledge the current version, nothing appended
		return types.CommittedOp{Seq: version, Op: op}, nil
	}

	return s.finishCommit(entry, path, op, false)
}

// finishCommit appends, applies, persists, and publishes one rebased op.
// Caller holds the entry lock and guarantees the op is non-NoOp and
// expressed against the document's current frame.
func (s *Serializer) finishCommit(entry *workspace.Entry, path string, op types.Operation, upstream bool) (types.CommittedOp, error) {
	if !ot.InBounds(entry.Doc.Content, op) {
		return types.CommittedOp{}, fmt.Errorf("%w: operation out of range after rebase", types.ErrBadPrecondition)
	}

	rec := types.CommittedOp{Seq: entry.Doc.Version + 1, Op: op}
	if err := entry.Log.Append(rec); err != nil {
		// Nothing was applied; the in-memory state is still pre-op. Count
		// the failure toward read-only mode and hand the client a
		// retryable error.
		if s.storageFailures.Add(1) >= storageFailureLimit {
			s.readOnly.Store(true)
			s.logger.Error().Err(err).Msg("Persistent storage failures, entering read-only mode")
		}
		metrics.StorageFailuresTotal.Inc()
		return types.CommittedOp{}, fmt.Errorf("%w: %v", types.ErrRetryLater, err)
	}
	s.storageFailures.Store(0)

	if err := entry.Doc.Apply(op); err != nil {
		// Bounds were checked above; reaching this means the transform
		// produced an inconsistent op. Surface loudly.
		s.logger.Error().Err(err).Str("path", path).Uint64("seq", rec.Seq).Msg("Apply failed after append")
		return types.CommittedOp{}, err
	}

	if entry.Vector == nil {
		entry.Vector = make(types.CausalVector)
	}
	if op.OriginSeq > entry.Vector[op.OriginNode] {
		entry.Vector[op.OriginNode] = op.OriginSeq
	}

	// Every other origin's bridge grows by this commit: it is concurrent
	// with whatever those origins send next, until their vectors cover it.
	for origin, bridge := range entry.Bridges {
		if origin != op.OriginNode {
			entry.Bridges[origin] = append(bridge, op)
		}
	}

	if err := s.ws.PersistMeta(entry); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Meta persist failed; recoverable by replay")
	}

	if err := s.snaps.MaybeSnapshot(entry.ID, entry.Doc.Version, entry.Doc.Content); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Snapshot persist failed")
	}

	s.ws.BumpGlobalVersion()
	metrics.OpsCommittedTotal.WithLabelValues(string(op.Kind)).Inc()
	metrics.HotLogSize.WithLabelValues(path).Set(float64(entry.Log.HotLen()))

	s.broker.Publish(&events.Event{
		Type:     events.EventOpCommitted,
		Path:     path,
		Seq:      rec.Seq,
		Op:       op,
		Vector:   entry.Vector.Clone(),
		Upstream: upstream,
	})

	s.logger.Debug().
		Str("path", path).
		Uint64("seq", rec.Seq).
		Str("kind", string(op.Kind)).
		Str("origin", op.OriginNode).
		Bool("upstream", upstream).
		Msg("Operation committed")
	return rec, nil
}

// SubmitFSOp runs a structural workspace operation through the same commit
// pipeline: apply, bump global version, publish.
func (s *Serializer) SubmitFSOp(op types.FileSystemOp, upstream bool) error {
	if s.readOnly.Load() {
		return fmt.Errorf("fs op %s: %w", op.Path, types.ErrReadOnly)
	}

	if !upstream {
		if op.OriginNode == "" {
			op.OriginNode = s.nodeID
		}
		if op.OriginSeq == 0 {
			op.OriginSeq = s.NextOriginSeq()
		}
	}

	if err := s.ws.ApplyFSOp(op); err != nil {
		return err
	}

	eventType := events.EventFileCreated
	switch op.Kind {
	case types.FSDelete:
		eventType = events.EventFileDeleted
	case types.FSMove:
		eventType = events.EventFileMoved
	}

	fsCopy := op
	s.broker.Publish(&events.Event{
		Type:     eventType,
		Path:     op.Path,
		FSOp:     &fsCopy,
		Upstream: upstream,
	})
	return nil
}

// ContentAt reconstructs historical content for a document path
func (s *Serializer) ContentAt(path string, version uint64) (string, error) {
	entry, err := s.ws.Resolve(path)
	if err != nil {
		return "", err
	}
	return s.snaps.Checkout(entry.ID, version)
}

// covered reports whether the origin's vector already accounts for a
// committed operation.
func covered(op types.Operation, seen types.CausalVector) bool {
	return seen != nil && op.OriginSeq <= seen[op.OriginNode]
}
