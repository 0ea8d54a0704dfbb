package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ssenthilnathan3/dist-space/pkg/events"
	"github.com/ssenthilnathan3/dist-space/pkg/log"
	"github.com/ssenthilnathan3/dist-space/pkg/metrics"
	"github.com/ssenthilnathan3/dist-space/pkg/serializer"
	"github.com/ssenthilnathan3/dist-space/pkg/types"
	"github.com/ssenthilnathan3/dist-space/pkg/workspace"
)

// Config holds session manager configuration
type Config struct {
	HeartbeatInterval time.Duration
	SessionTimeout    time.Duration
	MaxOutboundQueue  int
	MaxConnections    int
}

// DefaultConfig returns the stock session limits
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 10 * time.Second,
		SessionTimeout:    30 * time.Second,
		MaxOutboundQueue:  1024,
		MaxConnections:    1024,
	}
}

// Manager owns all client sessions on a node: identity assignment,
// subscriptions, the fan-out of committed operations, heartbeat tracking,
// and slow-consumer eviction. It subscribes to the committed-op stream and
// never blocks the serializer: a session that cannot keep up is dropped.
type Manager struct {
	nodeID string
	ws     *workspace.Workspace
	ser    *serializer.Serializer
	broker *events.Broker
	cfg    Config
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stopCh chan struct{}
	done   sync.WaitGroup
}

// NewManager creates a session manager
func NewManager(nodeID string, ws *workspace.Workspace, ser *serializer.Serializer, broker *events.Broker, cfg Config) *Manager {
	return &Manager{
		nodeID:   nodeID,
		ws:       ws,
		ser:      ser,
		broker:   broker,
		cfg:      cfg,
		logger:   log.WithComponent("session"),
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the fan-out and heartbeat loops
func (m *Manager) Start() {
	// A large broker-side buffer keeps per-document commit order intact;
	// per-session backpressure is handled at the session queue instead.
	sub := m.broker.Subscribe(4 * m.cfg.MaxOutboundQueue)

	m.done.Add(2)
	go m.fanoutLoop(sub)
	go m.heartbeatLoop()
}

// Stop shuts the manager down and drops every session
func (m *Manager) Stop() {
	close(m.stopCh)
	m.done.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		sess.close()
		delete(m.sessions, id)
	}
}

// Connect registers a new session. Fails when the connection cap is hit.
func (m *Manager) Connect(clientID string, agent bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.cfg.MaxConnections {
		return nil, ErrTooManyConnections
	}

	sess := newSession(clientID, m.nodeID, agent, m.cfg.MaxOutboundQueue)
	m.sessions[sess.ID] = sess
	metrics.SessionsActive.Set(float64(len(m.sessions)))

	m.logger.Info().
		Str("session_id", sess.ID).
		Str("client_id", clientID).
		Bool("agent", agent).
		Msg("Session connected")
	return sess, nil
}

// Disconnect removes a session and cancels its outbound queue
func (m *Manager) Disconnect(sessionID string) {
	m.drop(sessionID, "disconnect")
}

// Get returns a live session by ID
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, types.ErrSessionClosed)
	}
	return sess, nil
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Subscribe attaches a session to a path. The client receives the current
// content as a snapshot message, or a catch-up stream of committed ops when
// its stated base version is already in the log's range.
func (m *Manager) Subscribe(sessionID, path string, baseVersion uint64) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	entry, err := m.ws.Resolve(path)
	if err != nil {
		return err
	}

	entry.Mu.Lock()
	version := entry.Doc.Version
	content := entry.Doc.Content
	var catchup []types.CommittedOp
	if baseVersion > version {
		entry.Mu.Unlock()
		return fmt.Errorf("%w: subscribe base %d ahead of version %d", types.ErrBadPrecondition, baseVersion, version)
	}
	if baseVersion > 0 && baseVersion < version {
		catchup, err = entry.Log.Range(baseVersion+1, version)
	}
	entry.Mu.Unlock()
	if err != nil {
		return err
	}

	sess.mu.Lock()
	sess.subscribed[path] = true
	sess.mu.Unlock()

	if baseVersion == version && baseVersion > 0 {
		// Client is current; nothing to send
		return nil
	}
	if catchup != nil {
		for _, rec := range catchup {
			if !sess.enqueue(Message{Kind: MsgCommitted, Path: path, Seq: rec.Seq, Op: rec.Op}) {
				m.drop(sessionID, "slow consumer")
				return types.ErrSlowConsumer
			}
		}
		return nil
	}
	if !sess.enqueue(Message{Kind: MsgSnapshot, Path: path, Version: version, Content: content}) {
		m.drop(sessionID, "slow consumer")
		return types.ErrSlowConsumer
	}
	return nil
}

// Submit stamps a proposal with the session identity and runs it through
// the serializer.
func (m *Manager) Submit(sessionID, path string, baseVersion uint64, op types.Operation) (types.CommittedOp, error) {
	sess, err := m.Get(sessionID)
	if err != nil {
		return types.CommittedOp{}, err
	}

	op.Author = sess.ClientID
	op.OriginNode = m.nodeID
	op.OriginSeq = m.ser.NextOriginSeq()
	op.BaseVersion = baseVersion

	rec, err := m.ser.Submit(path, op)
	if err != nil {
		metrics.RejectionsTotal.WithLabelValues(rejectReason(err)).Inc()
		return types.CommittedOp{}, err
	}
	return rec, nil
}

// SubmitFSOp runs a structural operation for a session
func (m *Manager) SubmitFSOp(sessionID string, op types.FileSystemOp) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	op.Author = sess.ClientID
	op.OriginNode = m.nodeID
	return m.ser.SubmitFSOp(op, false)
}

// Heartbeat refreshes a session's liveness
func (m *Manager) Heartbeat(sessionID string) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	sess.heartbeat()
	return nil
}

// RecentOps returns a deterministic suffix of a document's log: the last n
// committed operations. This is the agent view of history.
func (m *Manager) RecentOps(sessionID, path string, n uint64) ([]types.CommittedOp, error) {
	if _, err := m.Get(sessionID); err != nil {
		return nil, err
	}
	entry, err := m.ws.Resolve(path)
	if err != nil {
		return nil, err
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()
	last := entry.Log.LastSeq()
	if n == 0 || last == 0 {
		return nil, nil
	}
	from := uint64(1)
	if n < last {
		from = last - n + 1
	}
	return entry.Log.Range(from, last)
}

func (m *Manager) fanoutLoop(sub events.Subscriber) {
	defer m.done.Done()
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			m.fanout(ev)
		case <-m.stopCh:
			m.broker.Unsubscribe(sub)
			return
		}
	}
}

func (m *Manager) fanout(ev *events.Event) {
	var msg Message
	switch ev.Type {
	case events.EventOpCommitted:
		msg = Message{Kind: MsgCommitted, Path: ev.Path, Seq: ev.Seq, Op: ev.Op}
	case events.EventFileCreated, events.EventFileDeleted, events.EventFileMoved:
		msg = Message{Kind: MsgFileEvent, Path: ev.Path, FSOp: ev.FSOp}
	default:
		return
	}

	m.mu.RLock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if msg.Kind == MsgFileEvent || sess.Subscribed(ev.Path) {
			targets = append(targets, sess)
		}
	}
	m.mu.RUnlock()

	for _, sess := range targets {
		if !sess.enqueue(msg) {
			m.drop(sess.ID, "slow consumer")
			continue
		}
		metrics.BroadcastsTotal.Inc()
	}
}

func (m *Manager) heartbeatLoop() {
	defer m.done.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapIdle()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.cfg.SessionTimeout)

	m.mu.RLock()
	var idle []string
	for id, sess := range m.sessions {
		if sess.idleSince().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.drop(id, "heartbeat timeout")
	}
}

func (m *Manager) drop(sessionID, reason string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	count := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return
	}

	sess.close()
	metrics.SessionsActive.Set(float64(count))
	metrics.SessionsDroppedTotal.WithLabelValues(reason).Inc()
	m.logger.Info().
		Str("session_id", sessionID).
		Str("reason", reason).
		Msg("Session dropped")
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, types.ErrBadPrecondition):
		return "bad_precondition"
	case errors.Is(err, types.ErrFileNotFound):
		return "file_not_found"
	case errors.Is(err, types.ErrFileExists):
		return "file_exists"
	case errors.Is(err, types.ErrRetryLater):
		return "retry_later"
	case errors.Is(err, types.ErrReadOnly):
		return "read_only"
	default:
		return "other"
	}
}
